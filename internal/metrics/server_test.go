package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(&config.MetricsConfig{Enabled: true, ListenAddress: "127.0.0.1:0", Path: "/metrics"}, logger.NewNopLogger())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
	})

	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestServer_Disabled(t *testing.T) {
	s := NewServer(&config.MetricsConfig{}, logger.NewNopLogger())

	require.NoError(t, s.Start(context.Background()))
	require.Nil(t, s.Addr())
	require.NoError(t, s.Stop(context.Background()))
}

func TestServer_ExposesRegistry(t *testing.T) {
	SetBuildInfo("test")
	s := startServer(t)

	status, body := get(t, "http://"+s.Addr().String()+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "canvasindexor_uptime_seconds")
	require.Contains(t, body, `canvasindexor_build_info{go_version=`)
	require.Contains(t, body, "go_goroutines")
}

func TestServer_BindFailure(t *testing.T) {
	first := startServer(t)

	second := NewServer(&config.MetricsConfig{Enabled: true, ListenAddress: first.Addr().String(), Path: "/metrics"}, logger.NewNopLogger())
	require.ErrorContains(t, second.Start(context.Background()), "failed to listen")
}

// Not parallel: health state is process-wide.
func TestHealthHandler_FollowsComponentHealth(t *testing.T) {
	t.Cleanup(func() {
		ComponentHealthSet("ledger", true)
		ComponentHealthSet("chain_client", true)
	})

	ComponentHealthSet("ledger", true)
	ComponentHealthSet("chain_client", true)

	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())

	ComponentHealthSet("ledger", false)
	ComponentHealthSet("chain_client", false)
	require.InDelta(t, 0.0, testutil.ToFloat64(ComponentHealth.WithLabelValues("ledger")), 0)
	require.Equal(t, []string{"chain_client", "ledger"}, Unhealthy())

	rec = httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "unhealthy: chain_client,ledger")

	ComponentHealthSet("ledger", true)
	require.InDelta(t, 1.0, testutil.ToFloat64(ComponentHealth.WithLabelValues("ledger")), 0)
	require.Equal(t, []string{"chain_client"}, Unhealthy())
}

func TestErrorsInc(t *testing.T) {
	before := testutil.ToFloat64(Errors.WithLabelValues("persistence", "error"))
	ErrorsInc("persistence", "error")
	require.InDelta(t, before+1, testutil.ToFloat64(Errors.WithLabelValues("persistence", "error")), 0)
}
