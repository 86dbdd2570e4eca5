package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/dep2p/go-ensync/pkg/types"
)

// KeySize X25519 密钥长度
const KeySize = curve25519.ScalarSize

// KeyPair X25519 密钥对
type KeyPair struct {
	PublicKey []byte
	SecretKey []byte
}

// PublicKeyString 公钥的 base64 编码，可直接作为收件人标识
func (kp *KeyPair) PublicKeyString() string {
	return EncodeKey(kp.PublicKey)
}

// SecretKeyString 私钥的 base64 编码，可作为 appSecretKey
func (kp *KeyPair) SecretKeyString() string {
	return EncodeKey(kp.SecretKey)
}

// GenerateKeyPair 生成新的 X25519 密钥对
func GenerateKeyPair() (*KeyPair, error) {
	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	pub, err := PublicKeyFromSecret(secret)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: pub, SecretKey: secret}, nil
}

// PublicKeyFromSecret 由私钥推导公钥
func PublicKeyFromSecret(secret []byte) ([]byte, error) {
	if len(secret) != KeySize {
		return nil, types.ErrInvalidKey.Wrapf("secret key must be %d bytes, got %d", KeySize, len(secret))
	}
	pub, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return nil, types.ErrInvalidKey.Wrap(err)
	}
	return pub, nil
}

// EncodeKey 将密钥编码为标准 base64
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey 解码 base64 密钥
//
// 兼容标准/URL 两种字母表，带或不带填充。
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, types.ErrInvalidKey.Wrapf("empty key")
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		key, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if len(key) != KeySize {
			return nil, types.ErrInvalidKey.Wrapf("key must be %d bytes, got %d", KeySize, len(key))
		}
		return key, nil
	}
	return nil, types.ErrInvalidKey.Wrapf("key is not base64")
}
