package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// cipherBox 凭据载荷加解密器，密文携带随机 Nonce 前缀
type cipherBox struct {
	aead cipher.AEAD
}

// newCipherBox 从主密钥构建加解密器
// 主密钥优先按 32 字节的十六进制解码，不符合时按口令经 SHA-256 派生
func newCipherBox(masterKey string) (*cipherBox, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, fmt.Errorf("凭据主密钥不能为空")
	}

	key, err := hex.DecodeString(masterKey)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		sum := sha256.Sum256([]byte(masterKey))
		key = sum[:]
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("初始化加密器失败: %w", err)
	}
	return &cipherBox{aead: aead}, nil
}

// seal 加密明文，返回 Nonce 前缀加密文的字节数组
func (b *cipherBox) seal(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, fmt.Errorf("待加密内容不能为空")
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("生成随机数失败: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plain, nil), nil
}

// open 对 seal 生成的密文进行解密
func (b *cipherBox) open(ciphertext []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("密文长度无效")
	}
	nonce := ciphertext[:nonceSize]
	data := ciphertext[nonceSize:]
	plain, err := b.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, fmt.Errorf("解密失败: %w", err)
	}
	return plain, nil
}
