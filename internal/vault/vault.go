// Package vault derives the process's symmetric key material and keeps
// encrypted configuration values usable: AES-256-CBC envelopes for
// passwords, plus HMAC-SHA256 integrity protection of config subtrees.
//
// The key and IV are bit-for-bit compatible with
// openssl enc -base64 -e -aes-256-cbc -pbkdf2 -nosalt -pass pass:<pwd>.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
)

// ErrDecrypt reports ciphertext that could not be decoded, decrypted
// or unpadded.
var ErrDecrypt = errors.New("decrypt failed")

const (
	pbkdf2Iterations = 10000
	keyAndIVLength   = 48 // 32-byte AES-256 key followed by the 16-byte IV

	// Password files shorter than this (after whitespace filtering) are
	// rejected and the fallback password is used instead.
	minPasswordFileLength = 12
)

// Vault holds the derived key material. Configure once, then use from a
// single goroutine at a time.
type Vault struct {
	password string
	keyAndIV []byte
	logger   *logging.Logger
}

// New creates an unconfigured vault.
func New(logger *logging.Logger) *Vault {
	return &Vault{logger: logger}
}

// Configure selects the vault password and derives the key material.
// When section is non-empty and section.passwordFile names a readable
// file, its content is used; only bytes above 0x20 are retained, which
// strips whitespace, line endings and 8-bit noise. A file yielding
// fewer than 12 characters is rejected in favor of fallbackPassword.
func (v *Vault) Configure(cfg *config.Config, section, fallbackPassword string) {
	v.password = ""

	passwordFile := ""
	if section != "" {
		passwordFile = cfg.GetString(section, "passwordFile", "")
	}

	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			v.logger.Errorf("unable to load password from %s: %v", passwordFile, err)
		} else {
			var filtered []byte
			for _, c := range data {
				if c > 0x20 && c < 0x80 {
					filtered = append(filtered, c)
				}
			}
			v.password = string(filtered)
		}

		if v.password != "" && len(v.password) < minPasswordFileLength {
			v.logger.Warningf("password file %s is too short, at least %d characters are required", passwordFile, minPasswordFileLength)
			v.password = ""
		}
	}

	if v.password == "" {
		v.password = fallbackPassword
	}

	v.keyAndIV = DeriveKeyAndIV(v.password)
}

// DeriveKeyAndIV runs PBKDF2-HMAC-SHA256 with an empty salt and 10000
// iterations, producing 48 bytes: the AES-256 key followed by the IV.
func DeriveKeyAndIV(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte{}, pbkdf2Iterations, keyAndIVLength, sha256.New)
}

// Encrypt returns the Base64 of the AES-256-CBC/PKCS7 ciphertext.
func (v *Vault) Encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(v.keyAndIV[:32])
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, v.keyAndIV[32:]).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed Base64, a ciphertext that is not
// a positive multiple of the block size, and invalid padding all fail
// with ErrDecrypt.
func (v *Vault) Decrypt(base64CipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(base64CipherText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(raw))
	}

	block, err := aes.NewCipher(v.keyAndIV[:32])
	if err != nil {
		return "", err
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, v.keyAndIV[32:]).CryptBlocks(out, raw)

	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// GetPossiblyEncryptedString reads section.key and tries to decrypt it.
// An empty value yields the default. A value that does not decrypt is
// returned as-is; a warning and the ciphertext of the raw value are
// logged to guide the operator toward an encrypted configuration.
func (v *Vault) GetPossiblyEncryptedString(cfg *config.Config, section, key, defaultValue string) string {
	raw := cfg.GetString(section, key, "")
	if raw == "" {
		return defaultValue
	}

	plain, err := v.Decrypt(raw)
	if err == nil {
		return plain
	}

	v.logger.Warningf("%s.%s does not contain a valid encrypted string, using it as plain text", section, key)
	if encrypted, encErr := v.Encrypt(raw); encErr == nil {
		v.logger.Infof("encrypted version of the configured %s.%s value: %s", section, key, encrypted)
	}
	return raw
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length %d", ErrDecrypt, len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding byte", ErrDecrypt)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: corrupt padding", ErrDecrypt)
		}
	}
	return data[:len(data)-padding], nil
}
