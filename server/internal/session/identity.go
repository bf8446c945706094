package session

import (
	"errors"
	"fmt"
)

// maxIdentityLen bounds the client identity length.
const maxIdentityLen = 128

// ErrInvalidIdentity is returned for identities that fail validation.
var ErrInvalidIdentity = errors.New("invalid client identity")

// ClientIdentity names a client instance. It is chosen by the client, stays
// stable across reconnects, and is not a credential.
type ClientIdentity string

// ParseClientIdentity validates raw as a client identity.
func ParseClientIdentity(raw string) (ClientIdentity, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if len(raw) > maxIdentityLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentity, maxIdentityLen)
	}
	for i := 0; i < len(raw); i++ {
		if !identityByte(raw[i]) {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidIdentity, raw[i])
		}
	}
	return ClientIdentity(raw), nil
}

func identityByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-':
		return true
	}
	return false
}
