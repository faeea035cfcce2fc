package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyBits はkeygenコマンドが生成するRSA鍵の長さ。
const DefaultKeyBits = 2048

// KeyPair はトークン署名用のRSA鍵ペア。
// 検証のみを行うプロセスではPrivateがnilでもよい。
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// LoadKeyPair はPEM形式の秘密鍵と公開鍵を読み込む。
// 秘密鍵はPKCS#1とPKCS#8、公開鍵はPKIXとPKCS#1に対応する。
func LoadKeyPair(privatePEM, publicPEM []byte) (*KeyPair, error) {
	public, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	kp := &KeyPair{Public: public}
	if len(privatePEM) == 0 {
		return kp, nil
	}

	private, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if !private.PublicKey.Equal(public) {
		return nil, errors.New("private key does not match public key")
	}
	kp.Private = private
	return kp, nil
}

// GenerateKeyPair は新しいRSA鍵ペアを生成する。
func GenerateKeyPair(bits int) (*KeyPair, error) {
	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{Private: private, Public: &private.PublicKey}, nil
}

// EncodePEM は鍵ペアをPKCS#8（秘密鍵）とPKIX（公開鍵）のPEMに変換する。
func (k *KeyPair) EncodePEM() (privatePEM, publicPEM []byte, err error) {
	if k.Private == nil {
		return nil, nil, errors.New("private key is not loaded")
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}
