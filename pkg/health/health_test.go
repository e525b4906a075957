package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusResponse {
	t.Helper()

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthStartsNotReady(t *testing.T) {
	h := New()

	assert.False(t, h.IsReady())

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeStatus(t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Checks, "_readiness")
}

func TestHealthReadyAfterSetReady(t *testing.T) {
	h := New()
	h.SetReady(true)

	assert.True(t, h.IsReady())

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeStatus(t, rec).Status)
}

func TestHealthLivenessDefaultsHealthy(t *testing.T) {
	h := New()
	h.AddLivenessCheck("always-fails", time.Second, func(context.Context) error {
		return errors.New("nope")
	})

	// Probes start healthy; failures only count once Start runs them.
	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthFailureThreshold(t *testing.T) {
	p := newProbe("flaky", time.Second, func(context.Context) error {
		return errors.New("down")
	})

	ctx := context.Background()
	p.run(ctx)
	p.run(ctx)
	assert.True(t, p.healthy.Load(), "below threshold, still healthy")

	p.run(ctx)
	assert.False(t, p.healthy.Load(), "third consecutive failure flips it")

	msg, failed := p.failure()
	require.True(t, failed)
	assert.Equal(t, "down", msg)
}

func TestHealthRecovery(t *testing.T) {
	healthy := false
	p := newProbe("recovering", time.Second, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	ctx := context.Background()
	for i := 0; i < failureThreshold; i++ {
		p.run(ctx)
	}
	require.False(t, p.healthy.Load())

	healthy = true
	p.run(ctx)
	assert.True(t, p.healthy.Load(), "one success restores health")
}

func TestHealthReadinessCheckFailure(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	// Force the probe unhealthy directly rather than waiting on timers.
	for i := 0; i < failureThreshold; i++ {
		h.readiness[0].run(context.Background())
	}

	assert.False(t, h.IsReady())

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeStatus(t, rec)
	assert.Equal(t, "connection refused", resp.Checks["db"])
}

func TestHealthStartStop(t *testing.T) {
	h := New()
	ran := make(chan struct{}, 1)
	h.AddLivenessCheck("tick", time.Second, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("check never ran")
	}

	h.Stop()
	h.Stop() // safe to call twice
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck(fakePinger{})(context.Background()))

	err := PingCheck(fakePinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
