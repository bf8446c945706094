package handlers

import "github.com/bhandras/codetutor/protocol/wire"

// Ping answers a client keep-alive.
func Ping(ConnContext) EventResult {
	return NewEventResult(wire.Pong{})
}
