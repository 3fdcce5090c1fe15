package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStatusCode(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:         http.StatusNotFound,
		KindValidation:       http.StatusUnprocessableEntity,
		KindRateLimited:      http.StatusTooManyRequests,
		KindStoreUnavailable: http.StatusServiceUnavailable,
		KindUnhandled:        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.StatusCode(), kind.String())
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := NotFound("notification", nil)
	wrapped := fmt.Errorf("get: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindNotFound))
	assert.False(t, Is(nil, KindNotFound))
	assert.Equal(t, KindUnhandled, KindOf(fmt.Errorf("plain")))
}

func TestPublicHidesUnknownErrors(t *testing.T) {
	pub := Public(fmt.Errorf("pq: password authentication failed"))

	assert.Equal(t, KindUnhandled, pub.Kind)
	assert.Equal(t, "internal server error", pub.Message)
	assert.Equal(t, http.StatusInternalServerError, pub.StatusCode())
}

func TestValidationCarriesFields(t *testing.T) {
	err := Validation("invalid request", FieldError{Field: "owner_id", Message: "is required"})

	assert.Equal(t, http.StatusUnprocessableEntity, err.StatusCode())
	assert.Len(t, err.Fields, 1)
	assert.Equal(t, "invalid request", err.Error())
}
