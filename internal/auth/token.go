package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/notekeeper/internal/model"
)

// トークン検証の失敗種別。呼び出し側にはいずれもUnauthorizedとして返す。
var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrMalformed        = errors.New("token is malformed")
)

// DefaultTokenLifetime はトークンの既定の有効期間。
const DefaultTokenLifetime = 12 * time.Hour

// Claims はトークンに埋め込むクレームセット。
// JSONのフィールド順はiss, sub, id, scope, iat, expで固定。
type Claims struct {
	Issuer    string           `json:"iss"`
	Subject   string           `json:"sub"`
	ID        string           `json:"id"`
	Scope     string           `json:"scope"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *Claims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *Claims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// Principal はクレームからPrincipalを復元する。
func (c *Claims) Principal() model.Principal {
	return model.Principal{
		ID:       c.ID,
		Username: c.Subject,
		Scopes:   model.ParseScopeSet(c.Scope),
	}
}

// TokenCodec はRS256でトークンを署名・検証する。
type TokenCodec struct {
	keys     *KeyPair
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

// CodecOption はTokenCodecの生成オプション。
type CodecOption func(*TokenCodec)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec はTokenCodecを生成する。
// lifetimeが0以下の場合はDefaultTokenLifetimeを使う。
func NewTokenCodec(keys *KeyPair, issuer string, lifetime time.Duration, opts ...CodecOption) *TokenCodec {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	c := &TokenCodec{
		keys:     keys,
		issuer:   issuer,
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue はPrincipalに対してiat=現在時刻、exp=iat+有効期間のトークンを発行する。
func (c *TokenCodec) Issue(p model.Principal) (string, *Claims, error) {
	issuedAt := c.now().Truncate(time.Second)
	claims := &Claims{
		Issuer:    c.issuer,
		Subject:   p.Username,
		ID:        p.ID,
		Scope:     p.Scopes.String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.lifetime)),
	}
	token, err := c.Sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Sign はクレームセットを秘密鍵で署名し、compact形式の文字列を返す。
func (c *TokenCodec) Sign(claims *Claims) (string, error) {
	if c.keys == nil || c.keys.Private == nil {
		return "", errors.New("signing key is not configured")
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.keys.Private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify はトークンを検証してクレームを返す。
// 有効期限は署名より先に判定するため、期限切れのトークンは署名の正否に関わらずErrExpiredになる。
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	unverified := &Claims{}
	if _, _, err := parser.ParseUnverified(token, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if unverified.ExpiresAt == nil || unverified.IssuedAt == nil || unverified.ID == "" || unverified.Subject == "" {
		return nil, fmt.Errorf("%w: required claims are missing", ErrMalformed)
	}
	if !unverified.ExpiresAt.After(c.now()) {
		return nil, ErrExpired
	}

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.keys.Public, nil
	})
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Issuer != c.issuer {
		return nil, fmt.Errorf("%w: untrusted issuer %q", ErrInvalidSignature, claims.Issuer)
	}
	return claims, nil
}
