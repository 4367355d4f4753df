package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"ctfscore/internal/errors"
)

func TestConvert(t *testing.T) {
	e := errors.NotFound("team not found: %s", "t1")
	assert.Same(t, e, errors.Convert(e))
	assert.Equal(t, "team not found: t1", e.Message)

	// Wrapping keeps the code visible to Convert.
	wrapped := fmt.Errorf("submit: %w", e)
	assert.Equal(t, errors.CodeNotFound, errors.Convert(wrapped).Code)

	// Anything else collapses to internal.
	plain := fmt.Errorf("connection refused")
	assert.Equal(t, errors.CodeInternal, errors.Convert(plain).Code)
}

func TestHTTPStatusCode(t *testing.T) {
	tests := map[*errors.Error]int{
		errors.NotFound("x"):                       http.StatusNotFound,
		errors.InvalidArgument("x"):                http.StatusBadRequest,
		errors.New(errors.CodeAlreadyExists):       http.StatusConflict,
		errors.New(errors.CodeFailedPrecondition):  http.StatusUnprocessableEntity,
		errors.Internal(fmt.Errorf("boom")):        http.StatusInternalServerError,
	}

	for e, want := range tests {
		assert.Equal(t, want, e.HTTPStatusCode(), e.Message)
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("lookup: %w", errors.NotFound("gone"))
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	assert.False(t, errors.IsCode(err, errors.CodeInvalidArgument))
}
