package store

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// keySize is the HMAC key length in bytes.
const keySize = 32

// loadOrCreateKey returns the signing key at keyPath, generating one on first
// use. The key file is hex-encoded and private to the user.
func loadOrCreateKey(keyPath string) ([]byte, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, decodeErr := hex.DecodeString(string(data))
		if decodeErr != nil || len(key) != keySize {
			return nil, fmt.Errorf("signing key at %s is corrupt", keyPath)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write signing key: %w", err)
	}
	return key, nil
}

// canonicalBody returns the compact JSON encoding of the record with its
// signature field cleared. This is the exact byte sequence the signature
// covers, on both the sign and verify side.
func canonicalBody(rec *Record) ([]byte, error) {
	unsigned := *rec
	unsigned.Signature = ""
	return json.Marshal(&unsigned)
}

// sign computes the hex HMAC-SHA256 signature of the record body.
func sign(rec *Record, key []byte) (string, error) {
	body, err := canonicalBody(rec)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// verifySignature checks a record's signature against its body. Comparison
// is constant time.
func verifySignature(rec *Record, key []byte) error {
	expected, err := sign(rec, key)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(rec.Signature)) {
		return ErrSignatureMismatch
	}
	return nil
}
