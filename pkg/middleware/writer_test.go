package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorder_FirstStatusWins(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusCreated)
	rec.WriteHeader(http.StatusInternalServerError)
	_, _ = rec.Write([]byte("hello"))

	assert.Equal(t, http.StatusCreated, rec.status)
	assert.Equal(t, 5, rec.bytes)
}

func TestStatusRecorder_Hijack(t *testing.T) {
	inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rec := newStatusRecorder(inner)

	var w http.ResponseWriter = rec
	hj, ok := w.(http.Hijacker)
	require.True(t, ok)

	_, _, err := hj.Hijack()
	require.NoError(t, err)
	assert.True(t, inner.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.status)
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}

func TestStatusRecorder_FlushAndUnwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := newStatusRecorder(inner)

	rec.Flush()
	assert.True(t, inner.Flushed)
	assert.Same(t, inner, rec.Unwrap())
}

func TestNewStatusRecorder_ReusesExisting(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	assert.Same(t, rec, newStatusRecorder(rec))
}
