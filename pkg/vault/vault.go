// Package vault implements the encrypted variable envelope: values and
// whole files are sealed behind a password-derived key so secrets can live
// in version control alongside plain variables.
//
// The envelope keeps the familiar "$ANSIBLE_VAULT;1.1;AES256" header as a
// format label, but the actual cipher is Argon2id for key derivation and
// AES-256-GCM for authenticated encryption. It is not wire-compatible with
// real Ansible vault files. Decrypt rejects any header other than this
// exact one; a real Ansible file carries the same header and fails later,
// on its layout (ErrInvalidFormat) or on decryption (ErrDecryptFailed).
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// Header is the format label written at the top of every sealed blob.
	Header = "$ANSIBLE_VAULT;1.1;AES256"

	saltLength   = 16
	nonceLength  = 12
	keyLength    = 32
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4

	inlineMarker = "!vault |"
)

var (
	ErrInvalidFormat   = errors.New("vault: invalid envelope format")
	ErrUnsupportedType = errors.New("vault: unsupported header version")
	ErrDecryptFailed   = errors.New("vault: decryption failed, wrong password or corrupt data")
)

// Vault seals and opens values under a single password.
type Vault struct {
	password string
}

// New creates a Vault bound to the given password.
func New(password string) *Vault {
	return &Vault{password: password}
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keyLength)
}

// Encrypt seals plaintext into the vault envelope: header line, then a
// base64 blob of salt|nonce|ciphertext joined by newlines.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("vault: generate salt: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	key := deriveKey(v.password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: create gcm: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	b.WriteString(base64.StdEncoding.EncodeToString(salt))
	b.WriteByte('\n')
	b.WriteString(base64.StdEncoding.EncodeToString(nonce))
	b.WriteByte('\n')
	b.WriteString(base64.StdEncoding.EncodeToString(ciphertext))
	b.WriteByte('\n')
	return b.String(), nil
}

// Decrypt opens an envelope previously produced by Encrypt.
func (v *Vault) Decrypt(data string) ([]byte, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) != 4 {
		return nil, ErrInvalidFormat
	}
	if lines[0] != Header {
		return nil, ErrUnsupportedType
	}

	salt, err := base64.StdEncoding.DecodeString(lines[1])
	if err != nil {
		return nil, ErrInvalidFormat
	}
	nonce, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil {
		return nil, ErrInvalidFormat
	}
	ciphertext, err := base64.StdEncoding.DecodeString(lines[3])
	if err != nil {
		return nil, ErrInvalidFormat
	}

	key := deriveKey(v.password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptFile seals an entire file's bytes.
func (v *Vault) EncryptFile(plaintext []byte) ([]byte, error) {
	s, err := v.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// DecryptFile opens an entire file's bytes.
func (v *Vault) DecryptFile(data []byte) ([]byte, error) {
	return v.Decrypt(string(data))
}

// ViewFile decrypts a file's contents for display without writing it back.
func (v *Vault) ViewFile(data []byte) (string, error) {
	plaintext, err := v.DecryptFile(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether data carries the vault header.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte(Header))
}

// IsEncryptedString reports whether a string is a vault envelope or an
// inline "!vault |" block.
func IsEncryptedString(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, Header) || strings.HasPrefix(s, inlineMarker)
}

// EncryptInline wraps an encrypted value in the YAML "!vault |" block
// style used for single-variable encryption inside an otherwise plain
// vars file.
func (v *Vault) EncryptInline(plaintext string) (string, error) {
	encrypted, err := v.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(inlineMarker)
	b.WriteByte('\n')
	for _, line := range strings.Split(strings.TrimRight(encrypted, "\n"), "\n") {
		b.WriteString("          ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// DecryptInline reverses EncryptInline: strips the "!vault |" marker and
// leading indentation before decrypting.
func (v *Vault) DecryptInline(block string) (string, error) {
	block = strings.TrimPrefix(strings.TrimSpace(block), inlineMarker)
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	plaintext, err := v.Decrypt(strings.Join(lines, "\n"))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
