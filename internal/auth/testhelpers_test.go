package auth

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	keysOnce   sync.Once
	sharedKeys *KeyPair
	otherKeys  *KeyPair
	keysErr    error
)

// testKeys はパッケージ内のテストで共有するRSA鍵ペアを返す。
func testKeys(t *testing.T) (*KeyPair, *KeyPair) {
	t.Helper()
	keysOnce.Do(func() {
		sharedKeys, keysErr = GenerateKeyPair(DefaultKeyBits)
		if keysErr != nil {
			return
		}
		otherKeys, keysErr = GenerateKeyPair(DefaultKeyBits)
	})
	require.NoError(t, keysErr)
	return sharedKeys, otherKeys
}
