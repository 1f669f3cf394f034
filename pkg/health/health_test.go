package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type statusResponse struct {
	Status string
	Checks map[string]string
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) statusResponse {
	t.Helper()

	var resp statusResponse
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			resp.Status = s
			return err
		case "checks":
			resp.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				msg, err := d.Str()
				resp.Checks[name] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return resp
}

func passingCheck() CheckFunc {
	return func(_ context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(fn http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint_AllPassing(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("check1", time.Second, passingCheck())
	h.AddLivenessCheck("check2", time.Second, passingCheck())

	w := serve(h.LiveEndpoint)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeStatus(t, w).Status)
}

func TestLiveEndpoint_FailingCheck(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("db", time.Second, failingCheck("connection refused"))

	ctx := context.Background()
	for range 3 {
		h.liveness[0].run(ctx)
	}

	w := serve(h.LiveEndpoint)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeStatus(t, w)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["db"])
}

func TestLiveEndpoint_FailureBelowThreshold(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("flaky", time.Second, failingCheck("temporary"))

	ctx := context.Background()
	h.liveness[0].run(ctx)
	h.liveness[0].run(ctx)

	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)
}

func TestReadyEndpoint(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, passingCheck())

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready until SetReady")
	assert.Contains(t, decodeStatus(t, w).Checks, "_readiness")

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h.ReadyEndpoint).Code)
}

func TestReadyEndpoint_MultipleChecksOneFailing(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, PingCheck(pinger{}))
	h.AddReadinessCheck("redis", time.Second, PingCheck(pinger{err: errors.New("dial tcp: refused")}))
	h.SetReady(true)

	ctx := context.Background()
	for range 3 {
		h.readiness[1].run(ctx)
	}

	w := serve(h.ReadyEndpoint)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeStatus(t, w)
	assert.Equal(t, "ping: dial tcp: refused", body.Checks["redis"])
	assert.NotContains(t, body.Checks, "postgres")
	assert.False(t, h.IsReady())
}

func TestWithThresholds(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("kafka", time.Second, failingCheck("down"), WithThresholds(1, 2))
	c := h.readiness[0]
	ctx := context.Background()

	assert.True(t, c.run(ctx), "one failure flips")
	assert.False(t, c.isHealthy())

	c.fn = passingCheck()
	assert.False(t, c.run(ctx))
	assert.False(t, c.isHealthy(), "needs two passes")
	assert.True(t, c.run(ctx))
	assert.True(t, c.isHealthy())
}

func TestIsReady(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("db", time.Second, passingCheck())

	assert.False(t, h.IsReady())
	h.SetReady(true)
	assert.True(t, h.IsReady())
	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestStartLogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))
	h.AddReadinessCheck("redis", time.Second, failingCheck("down"), WithThresholds(1, 1))

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Health check failing").Len() > 0
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	assert.Equal(t, 1, logs.FilterMessage("Health check failing").Len(), "logged once per flip")
}

func TestLiveEndpoint_NoChecks(t *testing.T) {
	w := serve(New(nil).LiveEndpoint)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeStatus(t, w).Status)
}

func TestCheckLastErrorStored(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("db", time.Second, failingCheck("timeout"))
	c := h.liveness[0]

	assert.Nil(t, c.lastError())
	c.run(context.Background())
	assert.EqualError(t, c.lastError(), "timeout")
}

func TestConcurrentAccess(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("concurrent", time.Second, failingCheck("err"))
	h.AddReadinessCheck("concurrent", time.Second, passingCheck())
	h.SetReady(true)

	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	runtime.GC()
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
	assert.ErrorContains(t, GCMaxPauseCheck(0)(context.Background()), "exceeds threshold")
}
