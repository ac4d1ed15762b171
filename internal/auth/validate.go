package auth

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/password"
)

const (
	minPasswordLength    = 6
	maxDisplayNameLength = 100
)

// normalizeEmail はメールアドレスを前後の空白除去と小文字化で正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateEmail はメールアドレスの形式を検証する。
// 表示名付き（"Alice <alice@example.com>"）の形式は受け付けない。
func validateEmail(verrs model.ValidationErrors, email string) {
	if email == "" {
		verrs.Add("email", "メールアドレスを入力してください。")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		verrs.Add("email", "メールアドレスの形式が正しくありません。")
	}
}

// validatePassword はパスワードの長さを検証する。上限はbcryptの入力上限（バイト数）。
func validatePassword(verrs model.ValidationErrors, field, plaintext string) {
	switch {
	case plaintext == "":
		verrs.Add(field, "パスワードを入力してください。")
	case len(plaintext) < minPasswordLength:
		verrs.Add(field, "パスワードは6文字以上で入力してください。")
	case len(plaintext) > password.MaxLength:
		verrs.Add(field, "パスワードは72バイト以内で入力してください。")
	}
}

// validateDisplayName は表示名を検証する。
func validateDisplayName(verrs model.ValidationErrors, displayName string) {
	switch {
	case displayName == "":
		verrs.Add("displayName", "表示名を入力してください。")
	case utf8.RuneCountInString(displayName) > maxDisplayNameLength:
		verrs.Add("displayName", "表示名は100文字以内で入力してください。")
	}
}
