package auth

import "github.com/hitoshi/notekeeper/internal/model"

// RouteClass はエンドポイントの認可区分。
type RouteClass int

const (
	// RoutePublic は認証・認可を行わない。
	RoutePublic RouteClass = iota
	// RouteAdmin はADMINスコープを要求する。
	RouteAdmin
	// RouteGeneral はADMINまたはAPPLICATIONスコープを要求する。
	RouteGeneral
)

// RequiredScopes は区分ごとに要求するスコープ集合を返す。いずれか1つを持てばよい。
func (c RouteClass) RequiredScopes() model.ScopeSet {
	switch c {
	case RouteAdmin:
		return model.NewScopeSet(model.ScopeAdmin)
	case RouteGeneral:
		return model.NewScopeSet(model.ScopeAdmin, model.ScopeApplication)
	default:
		return nil
	}
}

// Authorize はPrincipalのスコープとrequiredAnyOfの積集合が空でない場合にtrueを返す。
func Authorize(p model.Principal, requiredAnyOf model.ScopeSet) bool {
	return p.Scopes.Intersects(requiredAnyOf)
}

// Check は区分に対する認可を行い、拒否した場合はForbiddenエラーを返す。
func Check(p model.Principal, class RouteClass) error {
	if class == RoutePublic {
		return nil
	}
	if !Authorize(p, class.RequiredScopes()) {
		return model.NewForbiddenError()
	}
	return nil
}
