// Package encryption is the only place where sensitive plaintext crosses
// into storage or onto the wire. Everything it hands out for persistence
// is an envelope produced by the injected Provider.
package encryption

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/common"
)

// Provider seals and opens opaque envelopes. cryptox.Cipher implements it.
type Provider interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(envelope string) ([]byte, error)
}

// MinEnvelopeLen is the shortest value accepted in a sensitive column.
// Anything shorter cannot be ciphertext from a real provider.
const MinEnvelopeLen = 21

type Boundary struct {
	p Provider
}

func NewBoundary(p Provider) *Boundary {
	return &Boundary{p: p}
}

// EncryptField seals one sensitive value. The empty string stays empty.
func (b *Boundary) EncryptField(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	env, err := b.p.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt field: %w", err)
	}
	return env, nil
}

// DecryptField opens one sensitive value. Failures wrap common.ErrDecrypt.
func (b *Boundary) DecryptField(envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}
	pt, err := b.p.Decrypt(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecrypt, err)
	}
	s := string(pt)
	common.WipeByteArray(pt)
	return s, nil
}

func (b *Boundary) EncryptPayload(p *models.Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	defer common.WipeByteArray(raw)

	env, err := b.p.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return env, nil
}

func (b *Boundary) DecryptPayload(envelope string) (*models.Payload, error) {
	raw, err := b.p.Decrypt(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecrypt, err)
	}
	defer common.WipeByteArray(raw)

	var p models.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON: %v", common.ErrDecrypt, err)
	}
	return &p, nil
}

// SealMirror renders p for the mirror table: an envelope when c has
// sensitive fields, plain JSON otherwise.
func (b *Boundary) SealMirror(c *schema.Collection, p *models.Payload) (string, error) {
	if c.HasSensitive() {
		return b.EncryptPayload(p)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(raw), nil
}

func (b *Boundary) OpenMirror(c *schema.Collection, stored string) (*models.Payload, error) {
	if c.HasSensitive() {
		return b.DecryptPayload(stored)
	}
	var p models.Payload
	if err := json.Unmarshal([]byte(stored), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mirror payload: %w", err)
	}
	return &p, nil
}

// Conceal turns logical fields into stored columns: every sensitive field
// is sealed into its envelope column and its hint column is derived.
func (b *Boundary) Conceal(c *schema.Collection, logical models.Fields) (models.Fields, error) {
	stored := make(models.Fields, len(logical)+len(c.Sensitive))
	for k, v := range logical {
		s, ok := c.SensitiveByField(k)
		if !ok {
			stored[k] = v
			continue
		}
		pt, _ := v.(string)
		env, err := b.EncryptField(pt)
		if err != nil {
			return nil, err
		}
		stored[s.Column] = env
		if s.HintColumn != "" {
			stored[s.HintColumn] = Hint(pt, s.HintLen)
		}
	}
	return stored, nil
}

// Reveal is the inverse of Conceal. Hint columns are dropped.
func (b *Boundary) Reveal(c *schema.Collection, stored models.Fields) (models.Fields, error) {
	logical := make(models.Fields, len(stored))
	for k, v := range stored {
		if c.IsHint(k) {
			continue
		}
		s, ok := c.SensitiveByColumn(k)
		if !ok {
			logical[k] = v
			continue
		}
		env, _ := v.(string)
		pt, err := b.DecryptField(env)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", s.Field, err)
		}
		logical[s.Field] = pt
	}
	return logical, nil
}

// Hint keeps the last n characters of plaintext. Values shorter than 2n
// get no hint, so a hint never gives away more than half the secret.
func Hint(plaintext string, n int) string {
	r := []rune(plaintext)
	if n <= 0 || len(r) < 2*n {
		return ""
	}
	return string(r[len(r)-n:])
}

// CheckOpaque rejects stored fields whose sensitive columns could not have
// come from Conceal: a non-empty value that is too short to be an envelope,
// or a hint longer than allowed.
func CheckOpaque(c *schema.Collection, guid string, stored models.Fields) error {
	for _, s := range c.Sensitive {
		if v, _ := stored[s.Column].(string); v != "" && len(v) < MinEnvelopeLen {
			return &common.ValidationError{GUID: guid, Field: s.Column, Reason: "value is not an encrypted envelope"}
		}
		if s.HintColumn == "" {
			continue
		}
		if h, _ := stored[s.HintColumn].(string); len([]rune(h)) > s.HintLen {
			return &common.ValidationError{GUID: guid, Field: s.HintColumn, Reason: "hint too long"}
		}
	}
	return nil
}
