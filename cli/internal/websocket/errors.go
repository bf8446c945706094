package websocket

import "fmt"

// CodeNotConnected is the policy code for requests made while disconnected.
const CodeNotConnected = "not_connected"

// PolicyError rejects a request locally without changing any state.
type PolicyError struct {
	Code    string
	Message string
}

// ErrNotConnected is returned by Submit while there is no connection.
var ErrNotConnected = &PolicyError{
	Code:    CodeNotConnected,
	Message: "not connected to the tutor server; retry once reconnected",
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches policy errors by code.
func (e *PolicyError) Is(target error) bool {
	t, ok := target.(*PolicyError)
	return ok && t.Code == e.Code
}
