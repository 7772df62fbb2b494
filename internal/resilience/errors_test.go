package resilience

import (
	"net/http"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(eris.New("ordinary failure")))
	assert.True(t, IsTransient(NewTransientError(eris.New("throttled"), 429)))
	assert.True(t, IsTransient(eris.Wrap(NewTransientError(eris.New("throttled"), 429), "api: lookup")))
	assert.True(t, IsTransient(syscall.ECONNRESET))
	assert.True(t, IsTransient(eris.New("read tcp: connection reset by peer")))
}

func TestIsRateLimited(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRateLimited(NewTransientError(eris.New("throttled"), http.StatusTooManyRequests)))
	assert.True(t, IsRateLimited(eris.Wrap(NewTransientError(eris.New("throttled"), 429), "api: lookup")))
	assert.False(t, IsRateLimited(NewTransientError(eris.New("down"), http.StatusServiceUnavailable)))
	assert.False(t, IsRateLimited(eris.New("throttled")))
	assert.False(t, IsRateLimited(nil))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}
