package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("open stream: %w", UpstreamUnavailable("brokerage stream", 503, nil))

	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, KindUpstreamUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "status 503")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		Unauthorized("no token"):              http.StatusUnauthorized,
		Forbidden("not owner"):                http.StatusForbidden,
		BadRequest("two cursors"):             http.StatusBadRequest,
		UpstreamUnavailable("down", 500, nil): http.StatusBadGateway,
		errors.New("boom"):                    http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}
