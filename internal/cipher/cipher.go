package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	KeySize   = 16 // AES-128
	BlockSize = aes.BlockSize
)

var (
	ErrKeySize          = errors.New("key must be 16 bytes")
	ErrShortSecret      = errors.New("secret must be at least 16 bytes")
	ErrIVSize           = errors.New("iv must be 16 bytes")
	ErrInvalidPadding   = errors.New("invalid padding")
	ErrCiphertextLength = errors.New("invalid ciphertext length")
)

// KeyFromSecret takes the first KeySize bytes of secret as the AES key.
func KeyFromSecret(secret string) ([]byte, error) {
	if len(secret) < KeySize {
		return nil, ErrShortSecret
	}
	key := make([]byte, KeySize)
	copy(key, secret)
	return key, nil
}

func Pad(b []byte) []byte {
	n := (len(b)/BlockSize + 1) * BlockSize
	out := make([]byte, n)
	copy(out, b)
	pad := byte(n - len(b))
	for i := len(b); i < n; i++ {
		out[i] = pad
	}
	return out
}

func Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	pad := int(b[len(b)-1])
	if pad < 1 || pad > BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, c := range b[len(b)-pad:] {
		if int(c) != pad {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-pad], nil
}

// Encrypt seals plaintext under a fresh random IV.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	iv := make([]byte, BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	return EncryptWithIV(plaintext, key, iv)
}

func EncryptWithIV(plaintext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != BlockSize {
		return nil, ErrIVSize
	}
	padded := Pad(plaintext)
	out := make([]byte, BlockSize+len(padded))
	copy(out, iv)
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(out[BlockSize:], padded)
	return out, nil
}

func Decrypt(data, key []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(data) < 2*BlockSize || len(data)%BlockSize != 0 {
		return nil, ErrCiphertextLength
	}
	iv, ct := data[:BlockSize], data[BlockSize:]
	plain := make([]byte, len(ct))
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return Unpad(plain)
}

// SealString encrypts plaintext and returns it as lower-case hex.
func SealString(plaintext string, key []byte) (string, error) {
	b, err := Encrypt([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func OpenString(sealed string, key []byte) (string, error) {
	b, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextLength, err)
	}
	plain, err := Decrypt(b, key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func newBlock(key []byte) (gocipher.Block, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return aes.NewCipher(key)
}
