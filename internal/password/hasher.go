// Package password はパスワードの一方向ハッシュ化と照合を提供する。
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength はbcryptが扱える平文の最大バイト数。
const MaxLength = 72

// ErrTooLong は平文がMaxLengthを超える場合のエラー。
var ErrTooLong = errors.New("password: plaintext exceeds 72 bytes")

// Hasher はパスワードのハッシュ化と照合のインターフェース。
type Hasher interface {
	// Hash はソルトを埋め込んだハッシュを生成する。
	Hash(plaintext string) (string, error)
	// Verify は平文が保存済みハッシュと一致するかを返す。不一致はエラーではなくfalse。
	Verify(plaintext, hash string) bool
}

// BcryptHasher はbcryptによるHasherの実装。
// ソルトはハッシュ生成ごとにランダムに生成されハッシュ文字列に埋め込まれる。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。
// costが範囲外の場合はbcrypt.DefaultCostを使用する。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash は平文パスワードをbcryptでハッシュ化する。
// 入力は常に利用者が入力した平文として扱う。二重ハッシュは呼び出し経路
// （password_hashを書き込むのはCreateとConsumeResetTokenのみ）で防ぐ。
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxLength {
		return "", ErrTooLong
	}

	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify は平文パスワードとbcryptハッシュを照合する。
// 比較は定数時間で行われる。ハッシュが不正な形式の場合もfalseを返す。
func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// compile-time interface check
var _ Hasher = (*BcryptHasher)(nil)
