package model

import "time"

// AdminPasswordKey は管理者パスワードレコードの固定キー。
const AdminPasswordKey = "admin_password"

// Authentication は管理者パスワードとログインセッションを保持するシングルトンレコード。
type Authentication struct {
	Key       string
	Value     string // bcryptハッシュ
	Sessions  []AdminSession
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AdminSession は管理者のログインセッションを表す。
type AdminSession struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired はnow時点でセッションが期限切れかどうかを返す。
func (s AdminSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
