// Package vault seals channel credentials with a key derived from the
// deployment master key.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

const (
	minMasterKeyLen = 32
	hkdfSalt        = "channelstock-vault"
)

// Sealed is what gets persisted next to a channel.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	KeyVersion int
}

// Vault encrypts and decrypts credential blobs. It is safe for concurrent use.
type Vault struct {
	aead       cipher.AEAD
	keyVersion int
}

// New derives the credential key from cfg.MasterKey. A missing or short key
// is a startup error.
func New(cfg config.VaultConfig) (*Vault, error) {
	raw := strings.TrimSpace(cfg.MasterKey)
	if raw == "" {
		return nil, fmt.Errorf("vault master key is required")
	}
	master, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode vault master key: %w", err)
	}
	if len(master) < minMasterKeyLen {
		return nil, fmt.Errorf("vault master key must be at least %d bytes, got %d", minMasterKeyLen, len(master))
	}

	version := cfg.KeyVersion
	if version <= 0 {
		version = 1
	}

	key, err := deriveKey(master, version)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Vault{aead: aead, keyVersion: version}, nil
}

func deriveKey(master []byte, version int) ([]byte, error) {
	info := fmt.Sprintf("channel-credentials/v%d", version)
	reader := hkdf.New(sha256.New, master, []byte(hkdfSalt), []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return key, nil
}

// KeyVersion reports the version stamped on newly sealed blobs.
func (v *Vault) KeyVersion() int {
	return v.keyVersion
}

// Seal encrypts plaintext. aad binds the ciphertext to its owner (the channel
// id) so blobs cannot be swapped between rows.
func (v *Vault) Seal(plaintext, aad []byte) (Sealed, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate nonce")
	}
	return Sealed{
		Ciphertext: v.aead.Seal(nil, nonce, plaintext, aad),
		Nonce:      nonce,
		KeyVersion: v.keyVersion,
	}, nil
}

// Open decrypts a sealed blob. Every failure is reported as CodeCredential.
func (v *Vault) Open(sealed Sealed, aad []byte) ([]byte, error) {
	if sealed.KeyVersion != 0 && sealed.KeyVersion != v.keyVersion {
		return nil, pkgerrors.New(pkgerrors.CodeCredential, "credentials sealed with a retired key").
			WithDetails(map[string]any{"key_version": sealed.KeyVersion})
	}
	if len(sealed.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, pkgerrors.New(pkgerrors.CodeCredential, "credential nonce is malformed")
	}
	plaintext, err := v.aead.Open(nil, sealed.Nonce, sealed.Ciphertext, aad)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeCredential, err, "decrypt credentials")
	}
	return plaintext, nil
}

// SealJSON marshals value and seals it.
func (v *Vault) SealJSON(value any, aad []byte) (Sealed, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Sealed{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode credentials")
	}
	return v.Seal(payload, aad)
}

// OpenJSON opens sealed and unmarshals it into dest.
func (v *Vault) OpenJSON(sealed Sealed, aad []byte, dest any) error {
	payload, err := v.Open(sealed, aad)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCredential, err, "decode credentials")
	}
	return nil
}
