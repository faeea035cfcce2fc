// Package model はドメインモデルを定義する。
package model

import "time"

// Appuser はサービス利用者の資格情報レコードを表す。
// usernameは一意で、パスワードはハッシュ値のみを保持する。
type Appuser struct {
	ID           string
	Username     string
	PasswordHash string
	Scopes       ScopeSet
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal はリクエストごとに解決される認証済みの主体を表す。
// 永続化はせず、値として扱う。
type Principal struct {
	ID       string
	Username string
	Scopes   ScopeSet
}

// Principal は資格情報レコードからPrincipalを導出する。
func (a *Appuser) Principal() Principal {
	return Principal{
		ID:       a.ID,
		Username: a.Username,
		Scopes:   a.Scopes.Clone(),
	}
}

// Note は利用者が所有するメモを表す。
// 所有者の退会時にカスケード削除される従属レコード。
type Note struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
