package model

import (
	"sort"
	"strings"
)

// Scope は認可スコープを表す。
type Scope string

const (
	// ScopeAdmin は管理者向けエンドポイントへのアクセスを許可する。
	ScopeAdmin Scope = "ADMIN"
	// ScopeApplication は一般利用者向けエンドポイントへのアクセスを許可する。
	ScopeApplication Scope = "APPLICATION"
)

// Valid は既知のスコープかどうかを返す。
func (s Scope) Valid() bool {
	switch s {
	case ScopeAdmin, ScopeApplication:
		return true
	default:
		return false
	}
}

// ScopeSet はスコープの集合。
// nilとの比較ではなく Len() == 0 で空判定すること。
type ScopeSet map[Scope]struct{}

// NewScopeSet は指定スコープからScopeSetを生成する。
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// ParseScopeSet はスペース区切りのスコープ文字列を解析する。
// 未知のスコープ名は無視する。
func ParseScopeSet(raw string) ScopeSet {
	set := ScopeSet{}
	for _, name := range strings.Fields(raw) {
		s := Scope(name)
		if s.Valid() {
			set[s] = struct{}{}
		}
	}
	return set
}

// Has は指定スコープを含むかどうかを返す。
func (s ScopeSet) Has(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// Len は集合の要素数を返す。
func (s ScopeSet) Len() int {
	return len(s)
}

// Intersects は2つの集合が共通要素を持つかどうかを返す。
func (s ScopeSet) Intersects(other ScopeSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for scope := range small {
		if large.Has(scope) {
			return true
		}
	}
	return false
}

// Slice はスコープ名の昇順でソートしたスライスを返す。
func (s ScopeSet) Slice() []Scope {
	out := make([]Scope, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings はスコープ名の昇順でソートした文字列スライスを返す。
func (s ScopeSet) Strings() []string {
	scopes := s.Slice()
	out := make([]string, len(scopes))
	for i, scope := range scopes {
		out[i] = string(scope)
	}
	return out
}

// String はトークンのscopeクレームに埋め込むスペース区切り表現を返す。
func (s ScopeSet) String() string {
	return strings.Join(s.Strings(), " ")
}

// Clone は集合のコピーを返す。
func (s ScopeSet) Clone() ScopeSet {
	out := make(ScopeSet, len(s))
	for scope := range s {
		out[scope] = struct{}{}
	}
	return out
}
