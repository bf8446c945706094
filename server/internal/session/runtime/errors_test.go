package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", UnsupportedLanguage("cobol"))

	require.True(t, errors.Is(err, ErrUnsupportedLanguage))
	require.False(t, errors.Is(err, ErrRunAlreadyActive))

	var pe *PolicyError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, CodeUnsupportedLanguage, pe.Wire().Code)
	require.Contains(t, pe.Wire().Message, "cobol")
}
