package token

import "errors"

// Keyset is an immutable set of signing material. The first key signs newly
// issued tokens; every key verifies, so refresh tokens signed before a
// rotation stay valid until they expire.
type Keyset struct {
	signing []byte
	verify  [][]byte
}

// NewKeyset builds a keyset from the current key followed by retired keys.
func NewKeyset(keys ...string) (*Keyset, error) {
	if len(keys) == 0 || keys[0] == "" {
		return nil, errors.New("token: at least one signing key required")
	}
	ks := &Keyset{signing: []byte(keys[0])}
	for _, k := range keys {
		if k == "" {
			continue
		}
		ks.verify = append(ks.verify, []byte(k))
	}
	return ks, nil
}

// SigningKey returns the key used for new signatures.
func (k *Keyset) SigningKey() []byte {
	return k.signing
}

// VerifyKeys returns every accepted verification key, current first.
func (k *Keyset) VerifyKeys() [][]byte {
	return k.verify
}
