package runtime

import (
	"fmt"

	"github.com/bhandras/codetutor/protocol/wire"
)

// Policy error codes. They travel to the client in wire.Error.Code.
const (
	CodeRunAlreadyActive    = wire.CodeRunAlreadyActive
	CodeUnsupportedLanguage = wire.CodeUnsupportedLanguage
	CodeEmptyCode           = wire.CodeEmptyCode
	CodeSessionGone         = wire.CodeSessionGone
)

// PolicyError rejects a request without touching run state. It is not a
// protocol fault and not a terminal message.
type PolicyError struct {
	Code    string
	Message string
}

var (
	ErrRunAlreadyActive = &PolicyError{
		Code:    CodeRunAlreadyActive,
		Message: "a run is already in progress for this session",
	}
	ErrUnsupportedLanguage = &PolicyError{
		Code:    CodeUnsupportedLanguage,
		Message: "language is not supported",
	}
	ErrEmptyCode = &PolicyError{
		Code:    CodeEmptyCode,
		Message: "no code to run",
	}
	ErrSessionGone = &PolicyError{
		Code:    CodeSessionGone,
		Message: "session no longer exists",
	}
)

func (e *PolicyError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches policy errors by code so errors.Is works against the
// sentinels above even when Message differs.
func (e *PolicyError) Is(target error) bool {
	t, ok := target.(*PolicyError)
	return ok && t.Code == e.Code
}

// Wire converts the error to the message sent to the client.
func (e *PolicyError) Wire() wire.Error {
	return wire.Error{Code: e.Code, Message: e.Message}
}

// UnsupportedLanguage returns an ErrUnsupportedLanguage naming lang.
func UnsupportedLanguage(lang Language) *PolicyError {
	return &PolicyError{
		Code:    CodeUnsupportedLanguage,
		Message: fmt.Sprintf("language %q is not supported", lang),
	}
}
