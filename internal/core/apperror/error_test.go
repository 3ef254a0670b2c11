package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("next number: %w", NewSequenceExhausted("s-1"))

	assert.True(t, IsSequenceExhausted(err))
	assert.False(t, IsLockUnavailable(err))
	assert.Equal(t, http.StatusUnprocessableEntity, GetHTTPStatus(err))
}

func TestNewProviderError_KeepsCauseMessage(t *testing.T) {
	cause := errors.New("imprenta timeout")
	err := NewProviderError("mock", cause)

	assert.Equal(t, "imprenta timeout", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsProviderError(err))
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
}

func TestNewLockUnavailable_Details(t *testing.T) {
	err := NewLockUnavailable("t1", "s1", 5)

	assert.Equal(t, CodeLockUnavailable, err.Code)
	assert.Equal(t, 5, err.Details["attempts"])
	assert.Equal(t, http.StatusServiceUnavailable, GetHTTPStatus(err))
}

func TestGetHTTPStatus_UnknownError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("boom")))
}
