package model

import "time"

// Credential は検証済みのベアラートークンから復元した認証情報。
// サーバー側には保存しない。
type Credential struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    map[string]any
}
