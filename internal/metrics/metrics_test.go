package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"Provability/internal/escrow"
)

// The engine accepts a Metrics as its recorder.
var _ escrow.Recorder = (*Metrics)(nil)

func TestObserveCommand(t *testing.T) {
	m := New()

	m.ObserveCommand("submit", "ok", time.Millisecond)
	m.ObserveCommand("submit", "ok", time.Millisecond)
	m.ObserveCommand("submit", "state", time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("submit", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("submit", "state")))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestVaultLockedGauge(t *testing.T) {
	m := New()

	m.SetVaultLocked(100)
	m.AddVaultLocked(50)
	m.AddVaultLocked(-30)

	require.Equal(t, 120.0, testutil.ToFloat64(m.vaultLocked))
}

func TestHandlerExposesFamilies(t *testing.T) {
	m := New()
	m.ObserveFinalize("paid")
	m.RateLimited()
	m.ObserveRequest("/health", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"escrow_finalize_outcomes_total",
		"escrow_api_rate_limited_total",
		"escrow_api_requests_total",
		"escrow_vault_locked",
		"go_goroutines",
	} {
		require.True(t, strings.Contains(string(body), name), "missing %s", name)
	}
}
