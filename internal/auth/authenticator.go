package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/notekeeper/internal/model"
)

// PresentationKind は資格情報の提示方式。
type PresentationKind int

const (
	// PresentationBasic はusernameとパスワードによる提示。
	PresentationBasic PresentationKind = iota + 1
	// PresentationBearer は発行済みトークンによる提示。
	PresentationBearer
)

func (k PresentationKind) String() string {
	switch k {
	case PresentationBasic:
		return "basic"
	case PresentationBearer:
		return "bearer"
	default:
		return "unknown"
	}
}

// Presentation はリクエストで提示された資格情報。
// Kindに応じてBasicまたはBearerのどちらか一方のみが有効。
type Presentation struct {
	Kind   PresentationKind
	Basic  BasicCredentials
	Bearer BearerCredentials
}

// BasicCredentials はusernameと平文パスワード。
type BasicCredentials struct {
	Username string
	Password string
}

// BearerCredentials はトークン文字列。
type BearerCredentials struct {
	Token string
}

// BasicPresentation はBasic方式のPresentationを生成する。
func BasicPresentation(username, password string) Presentation {
	return Presentation{Kind: PresentationBasic, Basic: BasicCredentials{Username: username, Password: password}}
}

// BearerPresentation はBearer方式のPresentationを生成する。
func BearerPresentation(token string) Presentation {
	return Presentation{Kind: PresentationBearer, Bearer: BearerCredentials{Token: token}}
}

// CredentialFinder はusernameから資格情報レコードを取得する。
type CredentialFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.Appuser, error)
}

// TokenVerifier はトークンを検証してクレームを返す。
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// errCredentialRejected は失敗理由をログに残すための内部エラー。
var errCredentialRejected = errors.New("credential rejected")

// dummyPassword は存在しないusernameでも同じコストの比較を行うためのもの。
const dummyPassword = "notekeeper-dummy-password"

// Authenticator は提示された資格情報をPrincipalに解決する。
type Authenticator struct {
	credentials CredentialFinder
	tokens      TokenVerifier
	hasher      PasswordHasher
	dummyHash   string
	logger      *slog.Logger
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(credentials CredentialFinder, tokens TokenVerifier, hasher PasswordHasher, logger *slog.Logger) (*Authenticator, error) {
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		credentials: credentials,
		tokens:      tokens,
		hasher:      hasher,
		dummyHash:   dummyHash,
		logger:      logger,
	}, nil
}

// Authenticate はPresentationをPrincipalに解決する。
// 資格情報に起因する失敗は原因に関わらず同一のUnauthorizedエラーを返す。
// ストアの障害のみInternalエラーになる。
func (a *Authenticator) Authenticate(ctx context.Context, p Presentation) (model.Principal, error) {
	var (
		principal model.Principal
		err       error
	)
	switch p.Kind {
	case PresentationBasic:
		principal, err = a.authenticateBasic(ctx, p.Basic)
	case PresentationBearer:
		principal, err = a.authenticateBearer(p.Bearer)
	default:
		err = fmt.Errorf("%w: unsupported presentation", errCredentialRejected)
	}

	if err == nil && principal.Scopes.Len() == 0 {
		err = fmt.Errorf("%w: principal has no scopes", errCredentialRejected)
	}
	if err == nil {
		return principal, nil
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return model.Principal{}, apiErr
	}
	a.logger.DebugContext(ctx, "認証に失敗しました",
		slog.String("kind", p.Kind.String()),
		slog.String("reason", err.Error()),
	)
	return model.Principal{}, model.NewUnauthorizedError()
}

func (a *Authenticator) authenticateBasic(ctx context.Context, c BasicCredentials) (model.Principal, error) {
	appuser, err := a.credentials.FindByUsername(ctx, c.Username)
	if err != nil {
		a.logger.ErrorContext(ctx, "資格情報の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return model.Principal{}, model.NewInternalError()
	}

	if appuser == nil {
		a.hasher.Compare(a.dummyHash, c.Password)
		return model.Principal{}, fmt.Errorf("%w: unknown username", errCredentialRejected)
	}
	if !a.hasher.Compare(appuser.PasswordHash, c.Password) {
		return model.Principal{}, fmt.Errorf("%w: password mismatch", errCredentialRejected)
	}
	return appuser.Principal(), nil
}

func (a *Authenticator) authenticateBearer(c BearerCredentials) (model.Principal, error) {
	claims, err := a.tokens.Verify(c.Token)
	if err != nil {
		return model.Principal{}, err
	}
	return claims.Principal(), nil
}
