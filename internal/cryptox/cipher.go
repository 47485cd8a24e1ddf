// Package cryptox implements the symmetric primitives used by gophsync:
// AES-256-GCM envelopes, argon2 master keys and HKDF subkeys.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"

	"github.com/dmitrijs2005/gophsync/internal/common"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

var envelopeEncoding = base64.RawURLEncoding

// Cipher seals data with AES-GCM under a fixed key. Every call uses a fresh
// random 12-byte nonce, so equal plaintexts give different envelopes.
//
// An envelope is base64url(nonce || ciphertext || tag). Even an empty
// plaintext produces a 38-character envelope.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := common.GenerateRandByteArray(c.aead.NonceSize())
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return envelopeEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(envelope string) ([]byte, error) {
	raw, err := envelopeEncoding.DecodeString(envelope)
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, ErrMalformedEnvelope
	}
	return c.aead.Open(nil, raw[:ns], raw[ns:], nil)
}
