// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// パスワードハッシュとGoogle IDの少なくとも一方が設定されている。
type User struct {
	ID            string
	Email         string
	PasswordHash  *string // OAuthのみのアカウントではnil
	DisplayName   string
	ProfilePicURL *string
	GoogleID      *string

	// パスワードリセットトークンと有効期限は常に同時に設定・クリアする。
	ResetToken          *string
	ResetTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword はローカル認証用のパスワードが設定されているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasPendingReset は指定時刻において有効なリセットトークンを持つかを返す。
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetToken != nil && u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now)
}
