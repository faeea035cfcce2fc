package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/notekeeper/internal/model"
)

var issuedAt = time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)

func newCodec(t *testing.T, now time.Time) *TokenCodec {
	t.Helper()
	keys, _ := testKeys(t)
	return NewTokenCodec(keys, "self", 12*time.Hour, WithClock(func() time.Time { return now }))
}

func alice() model.Principal {
	return model.Principal{
		ID:       "0b6f1a52-3f53-4c43-9d3b-6f0f1e7c2a11",
		Username: "alice",
		Scopes:   model.NewScopeSet(model.ScopeApplication),
	}
}

func decodeSegment(t *testing.T, seg string) []byte {
	t.Helper()
	b, err := base64.RawURLEncoding.DecodeString(seg)
	require.NoError(t, err)
	return b
}

func TestTokenCodec_Issue_ClaimSetLayout(t *testing.T) {
	codec := newCodec(t, issuedAt.Add(700*time.Millisecond))

	token, claims, err := codec.Issue(alice())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	var header map[string]any
	require.NoError(t, json.Unmarshal(decodeSegment(t, parts[0]), &header))
	assert.Equal(t, "RS256", header["alg"])

	want := `{"iss":"self","sub":"alice","id":"0b6f1a52-3f53-4c43-9d3b-6f0f1e7c2a11","scope":"APPLICATION","iat":1772357415,"exp":1772400615}`
	assert.Equal(t, want, string(decodeSegment(t, parts[1])))

	assert.Equal(t, issuedAt.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, 12*time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	codec := newCodec(t, issuedAt)

	principals := []model.Principal{
		alice(),
		{ID: "1", Username: "administrator", Scopes: model.NewScopeSet(model.ScopeAdmin)},
		{ID: "2", Username: "both-scopes", Scopes: model.NewScopeSet(model.ScopeAdmin, model.ScopeApplication)},
		{ID: "3", Username: "名前にマルチバイト", Scopes: model.NewScopeSet(model.ScopeApplication)},
	}
	for _, p := range principals {
		t.Run(p.Username, func(t *testing.T) {
			token, _, err := codec.Issue(p)
			require.NoError(t, err)

			claims, err := codec.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, p, claims.Principal())
		})
	}
}

func TestTokenCodec_FlippedSignatureByteFails(t *testing.T) {
	codec := newCodec(t, issuedAt)
	token, _, err := codec.Issue(alice())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := decodeSegment(t, parts[2])

	for _, i := range []int{0, len(sig) / 2, len(sig) - 1} {
		tampered := append([]byte(nil), sig...)
		tampered[i] ^= 0x01
		forged := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(tampered)

		_, err := codec.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidSignature, "byte %d flipped", i)
	}
}

func TestTokenCodec_TamperedClaimsFail(t *testing.T) {
	codec := newCodec(t, issuedAt)
	token, _, err := codec.Issue(alice())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	payload := strings.Replace(string(decodeSegment(t, parts[1])), `"APPLICATION"`, `"ADMIN"`, 1)
	forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + parts[2]

	_, err = codec.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTokenCodec_SignedByOtherKeyFails(t *testing.T) {
	_, other := testKeys(t)
	foreign := NewTokenCodec(other, "self", time.Hour, WithClock(func() time.Time { return issuedAt }))
	token, _, err := foreign.Issue(alice())
	require.NoError(t, err)

	_, err = newCodec(t, issuedAt).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTokenCodec_Expiry(t *testing.T) {
	codec := newCodec(t, issuedAt)
	token, _, err := codec.Issue(alice())
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{"just issued", issuedAt, nil},
		{"one second before expiry", issuedAt.Add(12*time.Hour - time.Second), nil},
		{"exactly at expiry", issuedAt.Add(12 * time.Hour), ErrExpired},
		{"long after expiry", issuedAt.Add(30 * 24 * time.Hour), ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCodec(t, tt.at).Verify(token)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTokenCodec_ExpiredWinsOverBadSignature(t *testing.T) {
	codec := newCodec(t, issuedAt)
	token, _, err := codec.Issue(alice())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := decodeSegment(t, parts[2])
	sig[0] ^= 0xff
	forged := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(sig)

	_, err = newCodec(t, issuedAt.Add(13*time.Hour)).Verify(forged)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec := newCodec(t, issuedAt)
	keys, _ := testKeys(t)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": "self", "sub": "alice", "id": "x", "scope": "APPLICATION", "iat": issuedAt.Unix(),
	}).SignedString(keys.Private)
	require.NoError(t, err)

	noSub, err := codec.Sign(&Claims{
		Issuer: "self", ID: "x", Scope: "APPLICATION",
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing sub":    noSub,
		"empty":          "",
		"garbage":        "not-a-token",
		"two segments":   "a.b",
		"bad base64":     "%%%.%%%.%%%",
		"missing exp":    noExp,
		"json not claim": base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`)) + "." + base64.RawURLEncoding.EncodeToString([]byte(`[1,2]`)) + ".sig",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Verify(token)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestTokenCodec_RejectsOtherAlgorithms(t *testing.T) {
	codec := newCodec(t, issuedAt)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Issuer: "self", Subject: "alice", ID: "x", Scope: "ADMIN",
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	}).SignedString([]byte("guessable"))
	require.NoError(t, err)

	_, err = codec.Verify(hs)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTokenCodec_RejectsForeignIssuer(t *testing.T) {
	keys, _ := testKeys(t)
	other := NewTokenCodec(keys, "someone-else", time.Hour, WithClock(func() time.Time { return issuedAt }))
	token, _, err := other.Issue(alice())
	require.NoError(t, err)

	_, err = newCodec(t, issuedAt).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTokenCodec_SignWithoutPrivateKey(t *testing.T) {
	keys, _ := testKeys(t)
	codec := NewTokenCodec(&KeyPair{Public: keys.Public}, "self", 0)

	_, _, err := codec.Issue(alice())
	assert.Error(t, err)
	assert.Equal(t, DefaultTokenLifetime, codec.lifetime)
}
