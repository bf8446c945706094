package handlers

import "github.com/bhandras/codetutor/server/internal/session"

// ConnContext carries the identity of the calling connection into handler
// functions. It intentionally excludes transport-specific types.
type ConnContext struct {
	clientID session.ClientIdentity
	epoch    uint64
}

// NewConnContext constructs a ConnContext for a single inbound frame.
func NewConnContext(clientID session.ClientIdentity, epoch uint64) ConnContext {
	return ConnContext{clientID: clientID, epoch: epoch}
}

// ClientID returns the connection's client identity.
func (c ConnContext) ClientID() session.ClientIdentity {
	return c.clientID
}

// Epoch returns the attachment epoch of the connection.
func (c ConnContext) Epoch() uint64 {
	return c.epoch
}
