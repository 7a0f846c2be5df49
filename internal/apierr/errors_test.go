package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindConflictCompose.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindRegistry.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindSupervisor.HTTPStatus())
}

func TestWrapPreservesExistingKind(t *testing.T) {
	original := NotFound("service %q not found", "api")
	wrapped := Wrap(original)
	assert.Equal(t, KindNotFound, wrapped.Kind)
	assert.Same(t, original, wrapped)
}

func TestWrapDefaultsToValidation(t *testing.T) {
	wrapped := Wrap(errors.New("boom"))
	assert.Equal(t, KindValidation, wrapped.Kind)
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil))
}

func TestUnwrapExposesUnderlyingError(t *testing.T) {
	underlying := errors.New("disk full")
	err := Registry(underlying)
	assert.ErrorIs(t, err, underlying)
}
