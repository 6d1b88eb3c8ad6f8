// Package encryption seals evidence files into a single authenticated
// AES-256-GCM bundle before they leave the submitter's machine. Only the
// key holder can open the bundle; a wrong key fails authentication with no
// partial output.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// BundleVersion tags the container format.
	BundleVersion = 1
	// Algorithm is recorded in every bundle for self-description.
	Algorithm = "AES-256-GCM"

	keySize = 32
)

// File is one plaintext file to seal.
type File struct {
	Name string
	Data []byte
}

// bundle is the serialized container. Ciphertext, nonce and tag are base64
// so the bundle pins as plain JSON.
type bundle struct {
	Version    int           `json:"version"`
	Encryption string        `json:"encryption"`
	Files      []bundleEntry `json:"files"`
}

type bundleEntry struct {
	Filename   string `json:"filename"`
	Size       int    `json:"size"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
}

// NewKey generates a random 256-bit key.
func NewKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// KeyToHex renders a key for display to the submitter.
func KeyToHex(key []byte) string { return hex.EncodeToString(key) }

// KeyFromHex restores a key from its hex form.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// Seal encrypts each file individually and packs the results into one
// versioned JSON bundle.
func Seal(files []File, key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes", keySize)
	}
	if len(files) == 0 {
		return nil, errors.New("no files to seal")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	b := bundle{Version: BundleVersion, Encryption: Algorithm}
	for _, f := range files {
		nonce := make([]byte, gcm.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}

		sealed := gcm.Seal(nil, nonce, f.Data, nil)
		// GCM appends the 16-byte tag; the bundle format stores it separately.
		tagStart := len(sealed) - gcm.Overhead()
		b.Files = append(b.Files, bundleEntry{
			Filename:   f.Name,
			Size:       len(f.Data),
			Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
			Nonce:      base64.StdEncoding.EncodeToString(nonce),
			Tag:        base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		})
	}

	return json.MarshalIndent(b, "", "  ")
}

// Open decrypts a bundle back into the original file set. Any tampering or
// a wrong key fails with an authentication error.
func Open(bundleBytes, key []byte) ([]File, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes", keySize)
	}

	var b bundle
	if err := json.Unmarshal(bundleBytes, &b); err != nil {
		return nil, fmt.Errorf("malformed bundle: %w", err)
	}
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", b.Version)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(b.Files))
	for _, entry := range b.Files {
		ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("malformed ciphertext for %s: %w", entry.Filename, err)
		}
		nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
		if err != nil {
			return nil, fmt.Errorf("malformed nonce for %s: %w", entry.Filename, err)
		}
		tag, err := base64.StdEncoding.DecodeString(entry.Tag)
		if err != nil {
			return nil, fmt.Errorf("malformed tag for %s: %w", entry.Filename, err)
		}

		plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
		if err != nil {
			return nil, fmt.Errorf("authentication failed for %s: %w", entry.Filename, err)
		}
		files = append(files, File{Name: entry.Filename, Data: plaintext})
	}

	return files, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
