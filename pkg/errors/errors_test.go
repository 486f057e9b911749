package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCodeMatchesThroughWrapping(t *testing.T) {
	cause := errors.New("udp checkmate")
	err := ConnectionFailedError(cause)
	wrapped := fmt.Errorf("starting call: %w", err)

	assert.True(t, IsCode(wrapped, ErrCodeConnectionFailed))
	assert.False(t, IsCode(wrapped, ErrCodeConnectionLost))
	assert.True(t, errors.Is(wrapped, New(ErrCodeConnectionFailed, "anything")))
	assert.ErrorIs(t, wrapped, cause)
}

func TestGetCallError(t *testing.T) {
	ce := CallDeclinedError()
	got := GetCallError(fmt.Errorf("answering: %w", ce))
	assert.Equal(t, ErrCodeCallDeclined, got.Code)

	// Unclassified errors surface as signaling failures.
	got = GetCallError(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeSignaling, got.Code)
	assert.EqualError(t, got.Err, "boom")
}

func TestRemediationHints(t *testing.T) {
	err := MediaAcquisitionError(errors.New("denied"))
	assert.NotEmpty(t, err.Remediation)
	assert.Empty(t, CallTimeoutError().Remediation)
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Wrap(ErrCodeRelayWrite, "write rejected", errors.New("quota"))
	assert.Contains(t, err.Error(), "RELAY_WRITE")
	assert.Contains(t, err.Error(), "quota")
}
