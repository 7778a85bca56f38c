package cred

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no trusted credential matches an identifier.
var ErrNotFound = errors.New("credential not found")

// KeyForm names how a lookup key is derived from a credential.
type KeyForm uint8

const (
	KeyByValue KeyForm = iota
	KeyByKID
	KeyKID
)

// String returns the key form name.
func (f KeyForm) String() string {
	switch f {
	case KeyByValue:
		return "BY_VALUE"
	case KeyByKID:
		return "BY_KID"
	case KeyKID:
		return "KID"
	default:
		return "UNKNOWN"
	}
}

// Keys returns the lookup keys of a credential by form.
func Keys(c *Credential) map[KeyForm][]byte {
	keys := map[KeyForm][]byte{KeyByValue: c.Raw()}
	if len(c.KID()) > 0 {
		keys[KeyByKID] = c.IDCredKID()
		keys[KeyKID] = c.KID()
	}
	return keys
}

// Store is an immutable set of trusted credentials indexed by several key
// forms.
type Store struct {
	creds   []*Credential
	entries map[string]*Credential
}

// NewStore builds a store. Two credentials claiming the same lookup key are
// rejected.
func NewStore(creds ...*Credential) (*Store, error) {
	s := &Store{
		creds:   make([]*Credential, 0, len(creds)),
		entries: make(map[string]*Credential),
	}
	for _, c := range creds {
		if c == nil {
			continue
		}
		for form, key := range Keys(c) {
			if prev, ok := s.entries[string(key)]; ok && prev != c {
				return nil, fmt.Errorf("credentials %q and %q collide on %s key %x",
					prev.Subject(), c.Subject(), form, key)
			}
			s.entries[string(key)] = c
		}
		s.creds = append(s.creds, c)
	}
	return s, nil
}

// Lookup resolves an identifier in any supported key form.
func (s *Store) Lookup(id []byte) (*Credential, error) {
	if c, ok := s.entries[string(id)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %x", ErrNotFound, id)
}

// Len returns the number of trusted credentials.
func (s *Store) Len() int {
	return len(s.creds)
}

// Credentials returns the trusted credentials in load order.
func (s *Store) Credentials() []*Credential {
	out := make([]*Credential, len(s.creds))
	copy(out, s.creds)
	return out
}
