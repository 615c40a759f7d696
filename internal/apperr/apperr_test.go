package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	err := eris.Wrap(NotFound("store.get", "asset"), "orchestrator: load asset")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindTimeout))
}

func TestKindOf_Plain(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ServiceUnavailable("enhance", "http://localhost:5001/enhance", nil)))
	assert.True(t, Retryable(Timeout("forensics", nil)))
	assert.False(t, Retryable(NotFound("get", "asset")))
	assert.False(t, Retryable(Upstream("aqi", 500, "boom")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("register", "filename is required"), http.StatusBadRequest},
		{InvalidID("get", "nope"), http.StatusBadRequest},
		{NotFound("get", "asset"), http.StatusNotFound},
		{SourceMissing("enhance", "a.wav"), http.StatusNotFound},
		{ServiceUnavailable("aqi", "http://x/aqi", nil), http.StatusServiceUnavailable},
		{Upstream("aqi", 500, ""), http.StatusBadGateway},
		{Timeout("forensics", nil), http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestErrorMessages(t *testing.T) {
	err := ServiceUnavailable("enhance", "http://localhost:5001/enhance", errors.New("connection refused"))
	assert.Contains(t, err.Error(), "http://localhost:5001/enhance")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorContains(t, Timeout("forensics", nil), "forensics timed out")

	up := Upstream("aqi", 400, "")
	assert.Equal(t, 400, up.Status)
	assert.Contains(t, up.Message, "Bad Request")

	assert.Equal(t, "asset not found", Message(eris.Wrap(NotFound("get", "asset"), "wrapped")))
	assert.Equal(t, "internal error", Message(errors.New("secret detail")))
	assert.Equal(t, "", Message(nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ServiceUnavailable("explain", "http://x/explain", cause)
	assert.ErrorIs(t, err, cause)
}
