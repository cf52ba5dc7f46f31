package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	server := NewServer(9999, zerolog.New(io.Discard))

	assert.Equal(t, 9999, server.port)
	assert.Nil(t, server.server)
	assert.Empty(t, server.Addr())
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"timestamp"`)
	assert.Contains(t, body, `"version"`)
}

func TestServerLifecycle(t *testing.T) {
	server := NewServer(0, zerolog.New(io.Discard))
	require.NoError(t, server.Start())
	require.NotEmpty(t, server.Addr())

	RecordArtifactFailure(ArtifactGodline)

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "killcore_artifact_write_failures_total")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	_, err = http.Get("http://" + server.Addr() + "/health")
	assert.Error(t, err)
}

func TestServerStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	server := NewServer(ln.Addr().(*net.TCPAddr).Port, zerolog.New(io.Discard))
	assert.Error(t, server.Start())
}

func TestShutdownWithoutStart(t *testing.T) {
	server := NewServer(9994, zerolog.New(io.Discard))
	assert.NoError(t, server.Shutdown(context.Background()))
}
