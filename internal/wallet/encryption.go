package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed blob layout:
//
//	version(1) | salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
const (
	sealVersion = 1
	SaltSize    = 32
	paramsSize  = 4 + 4 + 1
	headerSize  = 1 + SaltSize + paramsSize
)

// ErrDecrypt is returned when a sealed blob cannot be opened, which almost
// always means a wrong password.
var ErrDecrypt = errors.New("wrong password or corrupted keystore")

// EncryptionParams holds Argon2id parameters.
type EncryptionParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns the Argon2id parameters used for new keystores.
func DefaultParams() EncryptionParams {
	return EncryptionParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

func deriveKey(password, salt []byte, p EncryptionParams) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encrypt seals data under password with Argon2id + XChaCha20-Poly1305.
// The header is authenticated as associated data.
func Encrypt(data, password []byte, params EncryptionParams) ([]byte, error) {
	out := make([]byte, headerSize, headerSize+chacha20poly1305.NonceSizeX+len(data)+chacha20poly1305.Overhead)
	out[0] = sealVersion
	salt := out[1 : 1+SaltSize]
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	binary.LittleEndian.PutUint32(out[1+SaltSize:], params.Memory)
	binary.LittleEndian.PutUint32(out[1+SaltSize+4:], params.Iterations)
	out[headerSize-1] = params.Parallelism

	key := deriveKey(password, salt, params)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	header := append([]byte{}, out...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, header), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(sealed, password []byte) ([]byte, error) {
	minSize := headerSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(sealed) < minSize {
		return nil, fmt.Errorf("encrypted data too short: %d bytes, need at least %d", len(sealed), minSize)
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("unsupported encryption version %d", sealed[0])
	}
	header := sealed[:headerSize]
	params := EncryptionParams{
		Memory:      binary.LittleEndian.Uint32(header[1+SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[1+SaltSize+4:]),
		Parallelism: header[headerSize-1],
	}
	if params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid encryption parameters")
	}

	key := deriveKey(password, header[1:1+SaltSize], params)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := sealed[headerSize : headerSize+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, sealed[headerSize+aead.NonceSize():], header)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
