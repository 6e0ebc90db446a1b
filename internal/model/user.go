// Package model はドメインモデルを定義する。
package model

import "time"

// User はローカルアプリケーションのユーザーを表す。
// SSOで初めてログインしたユーザーはAuthenticatorにより自動作成される。
type User struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
