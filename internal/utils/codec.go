package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Dan9191/bank-cards/internal/errs"
	"golang.org/x/crypto/hkdf"
)

const codecInfo = "bank-cards/field-codec/v1"

// CipherKey is the process-wide key material of a FieldCodec. It is loaded
// once at start-up and never mutated.
type CipherKey []byte

// ParseCipherKey decodes a hex encoded AES-128, AES-192 or AES-256 key
func ParseCipherKey(hexKey string) (CipherKey, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if err := checkKeyLength(key); err != nil {
		return nil, err
	}
	return CipherKey(key), nil
}

func checkKeyLength(key []byte) error {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	return nil
}

// FieldCodec encrypts sensitive text fields with AES-CBC and PKCS#7 padding.
//
// Encryption is deterministic: the IV is an HMAC-SHA256 of the plaintext,
// so equal plaintexts give equal ciphertexts and duplicate card numbers can be
// found by ciphertext lookup. This leaks equality between stored values. On
// decryption the IV is recomputed and compared, which rejects corrupted or
// foreign ciphertext instead of returning wrong plaintext.
type FieldCodec struct {
	block  cipher.Block
	macKey []byte
}

// NewFieldCodec derives independent encryption and IV keys from key via HKDF
func NewFieldCodec(key CipherKey) (*FieldCodec, error) {
	if err := checkKeyLength(key); err != nil {
		return nil, err
	}

	encKey := make([]byte, len(key))
	macKey := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, key, nil, []byte(codecInfo))
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, fmt.Errorf("failed to derive iv key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &FieldCodec{block: block, macKey: macKey}, nil
}

// Encrypt returns base64(iv || ciphertext) for plaintext
func (c *FieldCodec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errs.Codec("encrypt field", errors.New("input data is empty"))
	}

	iv := c.syntheticIV([]byte(plaintext))
	data := pkcs7Pad([]byte(plaintext), aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(data))
	copy(out, iv)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], data)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed, truncated or tampered input
// fails with a codec error.
func (c *FieldCodec) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", errs.Codec("decrypt field", errors.New("encrypted data is empty"))
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errs.Codec("decrypt field", fmt.Errorf("failed to decode base64: %w", err))
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return "", errs.Codec("decrypt field", fmt.Errorf("invalid ciphertext length: %d bytes", len(data)))
	}

	iv := data[:aes.BlockSize]
	plaintext := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, data[aes.BlockSize:])

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", errs.Codec("decrypt field", err)
	}
	if !hmac.Equal(iv, c.syntheticIV(plaintext)) {
		return "", errs.Codec("decrypt field", errors.New("integrity check failed"))
	}
	return string(plaintext), nil
}

func (c *FieldCodec) syntheticIV(plaintext []byte) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(plaintext)
	return mac.Sum(nil)[:aes.BlockSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding value: %d", padding)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if int(data[i]) != padding {
			return nil, fmt.Errorf("invalid padding bytes: expected %d, got %d at position %d", padding, data[i], i)
		}
	}
	return data[:len(data)-padding], nil
}
