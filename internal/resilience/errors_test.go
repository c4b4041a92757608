package resilience

import (
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient_MarkedWebhookStatus(t *testing.T) {
	err := MarkTransientStatus(eris.New("alerting: webhook returned status 503"), 503)
	assert.True(t, IsTransient(err))

	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)
}

func TestIsTransient_MarkedThenWrapped(t *testing.T) {
	// The delivery loop wraps before handing the error up; the marker must
	// survive the wrap.
	inner := MarkTransientStatus(eris.New("alerting: webhook returned status 429"), 429)
	wrapped := eris.Wrap(inner, "send alert")
	assert.True(t, IsTransient(wrapped))
}

func TestMarkTransientStatus_PermanentStatusPassesThrough(t *testing.T) {
	orig := eris.New("alerting: webhook returned status 400")
	err := MarkTransientStatus(orig, 400)
	assert.Same(t, orig, err, "permanent statuses are not wrapped")
	assert.False(t, IsTransient(err))
}

func TestMarkTransientStatus_NilError(t *testing.T) {
	assert.NoError(t, MarkTransientStatus(nil, 503))
}

func TestIsTransient_NilAndPermanent(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(eris.New("ingest: unsupported format \"pdf\"")))
	assert.False(t, IsTransient(eris.New("ingest: missing assessment_id column")))
}

func TestIsTransient_FetchConnectionErrors(t *testing.T) {
	// A feed host dropping the connection mid-download is retryable.
	assert.True(t, IsTransient(eris.Wrap(syscall.ECONNRESET, "ingest: fetch outcomes.csv")))
	assert.True(t, IsTransient(eris.Wrap(syscall.ECONNREFUSED, "ingest: fetch outcomes.csv")))
}

func TestIsTransient_FetchTimeout(t *testing.T) {
	dnsErr := &net.DNSError{IsTimeout: true, Err: "timeout", Name: "hr-exports.example.com"}
	assert.True(t, IsTransient(dnsErr))
}

func TestIsTransient_ClientMessagePatterns(t *testing.T) {
	for _, msg := range []string{
		"Post \"https://hooks.example.com/calib\": connection reset by peer",
		"read tcp: i/o timeout",
		"ftp: broken pipe",
		"net/http: TLS handshake timeout",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 202, 400, 401, 403, 404, 410, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientError_UnwrapAndMessage(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	te := NewTransientError(inner, 502)

	assert.True(t, errors.Is(te, inner))
	assert.Equal(t, inner.Error(), te.Error())
	assert.Equal(t, 502, te.StatusCode)
}
