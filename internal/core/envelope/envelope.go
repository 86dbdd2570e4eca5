package envelope

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

var log = logger.Logger("core/envelope")

// ============================================================================
//                              常量
// ============================================================================

const (
	// Version 信封版本
	Version uint8 = 1

	// CompressionZstd zstd 压缩标记
	CompressionZstd = "zstd"

	// wrapInfo HKDF info
	wrapInfo = "ensync-envelope-wrap-v1"

	// maxDecompressedSize 解压后的最大长度 (16 MB)
	maxDecompressedSize = 16 << 20
)

// contentAAD 内容密文的附加认证数据
var contentAAD = []byte("ensync-envelope-v1")

// ============================================================================
//                              接口定义
// ============================================================================

// Provider 加解密提供者
type Provider interface {
	// Seal 为一个或多个收件人加密明文
	Seal(plaintext []byte, recipientKeys [][]byte) (*wire.Envelope, error)

	// Open 用私钥打开信封；没有匹配的封装时返回 Opaque 结果
	Open(env *wire.Envelope, secretKey []byte) (Opened, error)
}

// Opened 打开信封的结果
type Opened struct {
	// Data 明文
	Data []byte

	// Opaque 持有者没有可用密钥
	Opaque bool
}

// ============================================================================
//                              Sealer
// ============================================================================

// Sealer 默认 Provider 实现
type Sealer struct {
	compressThreshold int

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ Provider = (*Sealer)(nil)

// New 创建 Sealer
func New(cfg *config.CryptoConfig) (*Sealer, error) {
	if cfg == nil {
		c := config.DefaultCryptoConfig()
		cfg = &c
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Sealer{
		compressThreshold: cfg.CompressThreshold,
		encoder:           encoder,
		decoder:           decoder,
	}, nil
}

// Close 释放压缩器资源
func (s *Sealer) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// Seal 为收件人加密明文
//
// 重复的收件人会得到重复的封装记录。
func (s *Sealer) Seal(plaintext []byte, recipientKeys [][]byte) (*wire.Envelope, error) {
	if len(recipientKeys) == 0 {
		return nil, types.ErrMissingKey.Wrapf("no recipients")
	}

	env := &wire.Envelope{Version: Version}

	data := plaintext
	if s.compressThreshold > 0 && len(plaintext) >= s.compressThreshold {
		data = s.encoder.EncodeAll(plaintext, make([]byte, 0, len(plaintext)/2))
		env.Compression = CompressionZstd
	}

	contentKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(contentKey); err != nil {
		return nil, types.ErrEncryption.Wrap(err)
	}

	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, types.ErrEncryption.Wrap(err)
	}
	env.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, types.ErrEncryption.Wrap(err)
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, data, contentAAD)

	env.Keys = make([]wire.KeyWrap, 0, len(recipientKeys))
	for i, pub := range recipientKeys {
		wrap, err := wrapKey(contentKey, pub)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		env.Keys = append(env.Keys, wrap)
	}

	return env, nil
}

// Open 用私钥打开信封
func (s *Sealer) Open(env *wire.Envelope, secretKey []byte) (Opened, error) {
	if env == nil {
		return Opened{}, types.ErrEncryption.Wrapf("nil envelope")
	}
	if env.Version != Version {
		return Opened{}, types.ErrEncryption.Wrapf("unsupported envelope version %d", env.Version)
	}
	if len(secretKey) == 0 {
		return Opened{Opaque: true}, nil
	}

	pub, err := PublicKeyFromSecret(secretKey)
	if err != nil {
		return Opened{}, err
	}
	self := EncodeKey(pub)

	for _, wrap := range env.Keys {
		if wrap.Recipient != "" && wrap.Recipient != self {
			continue
		}
		contentKey, err := unwrapKey(wrap, secretKey, pub)
		if err != nil {
			continue
		}

		aead, err := chacha20poly1305.NewX(contentKey)
		if err != nil {
			return Opened{}, types.ErrEncryption.Wrap(err)
		}
		if len(env.Nonce) != aead.NonceSize() {
			return Opened{}, types.ErrEncryption.Wrapf("invalid content nonce")
		}
		data, err := aead.Open(nil, env.Nonce, env.Ciphertext, contentAAD)
		if err != nil {
			return Opened{}, types.ErrEncryption.Wrapf("content authentication failed")
		}

		switch env.Compression {
		case "":
		case CompressionZstd:
			data, err = s.decoder.DecodeAll(data, nil)
			if err != nil {
				return Opened{}, types.ErrEncryption.Wrapf("decompress: %v", err)
			}
		default:
			return Opened{}, types.ErrEncryption.Wrapf("unsupported compression %q", env.Compression)
		}
		return Opened{Data: data}, nil
	}

	log.Debug("信封没有匹配的密钥封装", "wraps", len(env.Keys))
	return Opened{Opaque: true}, nil
}

// Encrypt 序列化结构化载荷并加密
func (s *Sealer) Encrypt(payload any, recipientKeys [][]byte) (*wire.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, types.ErrEncryption.Wrapf("marshal payload: %v", err)
	}
	return s.Seal(data, recipientKeys)
}

// Decrypt 解密并反序列化载荷
//
// 没有可用密钥时返回 types.OpaqueMarker。
func (s *Sealer) Decrypt(env *wire.Envelope, secretKey []byte) (any, error) {
	opened, err := s.Open(env, secretKey)
	if err != nil {
		return nil, err
	}
	if opened.Opaque {
		return types.OpaqueMarker{Size: len(env.Ciphertext)}, nil
	}
	return DecodePayload(opened.Data)
}

// DecodePayload 把明文 JSON 解码为结构化值
func DecodePayload(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, types.ErrEncryption.Wrapf("decode payload: %v", err)
	}
	return v, nil
}

// ============================================================================
//                              密钥封装
// ============================================================================

// wrapKey 为单个收件人封装内容密钥
func wrapKey(contentKey, recipient []byte) (wire.KeyWrap, error) {
	if len(recipient) != KeySize {
		return wire.KeyWrap{}, types.ErrInvalidKey.Wrapf("public key must be %d bytes, got %d", KeySize, len(recipient))
	}

	ephSecret := make([]byte, KeySize)
	if _, err := rand.Read(ephSecret); err != nil {
		return wire.KeyWrap{}, types.ErrEncryption.Wrap(err)
	}
	ephPublic, err := curve25519.X25519(ephSecret, curve25519.Basepoint)
	if err != nil {
		return wire.KeyWrap{}, types.ErrEncryption.Wrap(err)
	}
	shared, err := curve25519.X25519(ephSecret, recipient)
	if err != nil {
		return wire.KeyWrap{}, types.ErrInvalidKey.Wrap(err)
	}

	kek, err := deriveWrapKey(shared, ephPublic, recipient)
	if err != nil {
		return wire.KeyWrap{}, err
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return wire.KeyWrap{}, types.ErrEncryption.Wrap(err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return wire.KeyWrap{}, types.ErrEncryption.Wrap(err)
	}

	return wire.KeyWrap{
		Recipient: EncodeKey(recipient),
		Ephemeral: ephPublic,
		Nonce:     nonce,
		Wrapped:   aead.Seal(nil, nonce, contentKey, nil),
	}, nil
}

// unwrapKey 尝试用私钥解开封装
func unwrapKey(wrap wire.KeyWrap, secret, public []byte) ([]byte, error) {
	if len(wrap.Ephemeral) != KeySize {
		return nil, fmt.Errorf("invalid ephemeral key")
	}
	shared, err := curve25519.X25519(secret, wrap.Ephemeral)
	if err != nil {
		return nil, err
	}
	kek, err := deriveWrapKey(shared, wrap.Ephemeral, public)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	if len(wrap.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid wrap nonce")
	}
	return aead.Open(nil, wrap.Nonce, wrap.Wrapped, nil)
}

// deriveWrapKey HKDF-SHA256(shared, salt = ephemeral ‖ recipient)
func deriveWrapKey(shared, ephemeral, recipient []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeral)+len(recipient))
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)

	kdf := hkdf.New(sha256.New, shared, salt, []byte(wrapInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, types.ErrEncryption.Wrap(err)
	}
	return key, nil
}
