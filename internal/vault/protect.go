package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
)

// ErrIntegrity reports an HMAC mismatch during verification.
var ErrIntegrity = errors.New("integrity verification failed")

// ProtectJson computes HMAC-SHA256 digests for every entry of the
// tree's "protectedSections" array, writing each digest into the
// entry's "hash" field, then hashes the finalized array itself into
// "protectedSectionsHash". Section names are dotted paths into the
// same tree.
func ProtectJson(root map[string]any, password string) error {
	sections, err := protectedSections(root)
	if err != nil {
		return err
	}

	for _, entry := range sections {
		m, name, err := sectionEntry(entry, false)
		if err != nil {
			return err
		}

		data := config.Navigate(root, name)
		if data == nil {
			return fmt.Errorf("protected section %q not found", name)
		}

		hash, err := computeJsonHash(data, password)
		if err != nil {
			return fmt.Errorf("protected section %q: %w", name, err)
		}
		m["hash"] = hash
	}

	arrayHash, err := computeJsonHash(sections, password)
	if err != nil {
		return err
	}
	root["protectedSectionsHash"] = arrayHash
	return nil
}

// VerifyJsonProtection recomputes and compares the digests written by
// ProtectJson. The array-level hash is checked first: if the section
// index itself was tampered with, the per-section results prove
// nothing.
func VerifyJsonProtection(root map[string]any, password string) error {
	sections, err := protectedSections(root)
	if err != nil {
		return err
	}

	storedArrayHash, ok := root["protectedSectionsHash"].(string)
	if !ok {
		return errors.New("configuration lacks a protectedSectionsHash string")
	}

	arrayHash, err := computeJsonHash(sections, password)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(storedArrayHash), []byte(arrayHash)) {
		return fmt.Errorf("%w: protected sections index has been tampered with", ErrIntegrity)
	}

	for _, entry := range sections {
		m, name, err := sectionEntry(entry, true)
		if err != nil {
			return err
		}

		data := config.Navigate(root, name)
		if data == nil {
			return fmt.Errorf("protected section %q not found", name)
		}

		hash, err := computeJsonHash(data, password)
		if err != nil {
			return fmt.Errorf("protected section %q: %w", name, err)
		}
		if !hmac.Equal([]byte(m["hash"].(string)), []byte(hash)) {
			return fmt.Errorf("%w: section %q", ErrIntegrity, name)
		}
	}
	return nil
}

func protectedSections(root map[string]any) ([]any, error) {
	sections, ok := root["protectedSections"].([]any)
	if !ok {
		return nil, errors.New("configuration lacks a protectedSections array")
	}
	return sections, nil
}

func sectionEntry(entry any, needHash bool) (map[string]any, string, error) {
	m, ok := entry.(map[string]any)
	if !ok {
		return nil, "", errors.New("protectedSections entries must be objects")
	}
	name, ok := m["sectionName"].(string)
	if !ok {
		return nil, "", errors.New("protectedSections entries must carry a sectionName string")
	}
	if needHash {
		if _, ok := m["hash"].(string); !ok {
			return nil, "", fmt.Errorf("protected section %q carries no hash", name)
		}
	}
	return m, name, nil
}

func computeJsonHash(data any, password string) (string, error) {
	serialized, err := CanonicalJSON(data)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write(serialized)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
