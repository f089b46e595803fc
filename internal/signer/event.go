package signer

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
)

// Event is a signable event in the NIP-01 wire shape.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig,omitempty"`
}

// Serialize produces the canonical form the event id is computed over:
// the JSON array [0, pubkey, created_at, kind, tags, content] with HTML
// escaping disabled, since escaped content would change the hash.
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the sha256 digest of the canonical serialization.
func (e *Event) Hash() ([32]byte, error) {
	data, err := e.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
