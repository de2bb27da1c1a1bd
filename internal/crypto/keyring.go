// Package crypto seals stored provider API keys with AES-256-GCM under a
// rotating set of master keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const KeySize = 32

var ErrUnknownKey = errors.New("unknown master key id")

// Sealed is the JSON form persisted next to each secret.
type Sealed struct {
	KeyID      string `json:"kid"`
	Nonce      string `json:"n"`
	Ciphertext string `json:"ct"`
}

type Keyring struct {
	currentID string
	aeads     map[string]cipher.AEAD
}

func NewKeyring(currentID string, keys map[string][]byte) (*Keyring, error) {
	if currentID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if _, ok := keys[currentID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentID)
	}
	aeads := make(map[string]cipher.AEAD, len(keys))
	for id, key := range keys {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key %q must be %d bytes", id, KeySize)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("key %q: new cipher: %w", id, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("key %q: new gcm: %w", id, err)
		}
		aeads[id] = aead
	}
	return &Keyring{currentID: currentID, aeads: aeads}, nil
}

func (k *Keyring) CurrentID() string { return k.currentID }

func (k *Keyring) Seal(plaintext []byte) (Sealed, error) {
	aead := k.aeads[k.currentID]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("nonce: %w", err)
	}
	return Sealed{
		KeyID:      k.currentID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, []byte(k.currentID))),
	}, nil
}

func (k *Keyring) Open(s Sealed) ([]byte, error) {
	aead, ok := k.aeads[s.KeyID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKey, s.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(s.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(s.KeyID))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// SealString returns the serialized envelope for value.
func (k *Keyring) SealString(value string) (string, error) {
	s, err := k.Seal([]byte(value))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

func (k *Keyring) OpenString(raw string) (string, error) {
	s, err := parse(raw)
	if err != nil {
		return "", err
	}
	pt, err := k.Open(s)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// NeedsRotation reports whether raw was sealed with a key other than the
// current one.
func (k *Keyring) NeedsRotation(raw string) (bool, error) {
	s, err := parse(raw)
	if err != nil {
		return false, err
	}
	return s.KeyID != k.currentID, nil
}

// Rotate re-seals raw under the current key.
func (k *Keyring) Rotate(raw string) (string, error) {
	plain, err := k.OpenString(raw)
	if err != nil {
		return "", err
	}
	return k.SealString(plain)
}

// GenerateKey returns a new random master key, base64 encoded.
func GenerateKey() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func parse(raw string) (Sealed, error) {
	var s Sealed
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Sealed{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return s, nil
}
