// Package meta holds the provider side-channel attached to transactions.
// The ledger stores it verbatim and never reads it when checking invariants.
package meta

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
)

// Payload maps a provider name (e.g. "stripe", "paypal") to an opaque JSON document.
type Payload map[string]json.RawMessage

const (
	MaxProviders    = 8
	MaxProviderName = 64
	MaxTotalJSON    = 16 * 1024
)

func New(m map[string]json.RawMessage) Payload {
	if m == nil {
		return Payload{}
	}
	out := make(Payload, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (p Payload) Clone() Payload { return New(p) }

func (p Payload) Get(provider string) (json.RawMessage, bool) {
	v, ok := p[provider]
	return v, ok
}

// Set stores doc under provider. Invalid JSON is rejected.
func (p Payload) Set(provider string, doc []byte) error {
	if len(provider) == 0 || len(provider) > MaxProviderName {
		return errors.New("provider name empty or too long")
	}
	if !json.Valid(doc) {
		return errors.New("provider payload is not valid json")
	}
	p[provider] = append(json.RawMessage(nil), doc...)
	return nil
}

func (p Payload) Validate() error {
	if len(p) > MaxProviders {
		return errors.New("too many provider payloads")
	}
	for k, v := range p {
		if len(k) == 0 || len(k) > MaxProviderName {
			return errors.New("provider name empty or too long")
		}
		if !json.Valid(v) {
			return errors.New("provider payload is not valid json")
		}
	}
	b, err := p.MarshalStableJSON()
	if err != nil {
		return err
	}
	if len(b) > MaxTotalJSON {
		return errors.New("provider payload exceeds max json size")
	}
	return nil
}

// MarshalStableJSON returns a deterministic JSON representation with provider names sorted.
// Provider documents are compacted but otherwise kept as-is.
func (p Payload) MarshalStableJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, k := range keys {
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		if err := json.Compact(buf, p[k]); err != nil {
			return nil, err
		}
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p Payload) MarshalJSON() ([]byte, error) { return p.MarshalStableJSON() }

func (p *Payload) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = Payload{}
		return nil
	}
	var tmp map[string]json.RawMessage
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*p = New(tmp)
	return nil
}
