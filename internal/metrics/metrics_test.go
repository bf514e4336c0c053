package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	RecordTransition("notepad", true)
	RecordTransition("notepad", false)
	IncCheckError("notepad")
	IncBackupCreated("notepad")
	IncBackupFailed("notepad")
	IncBackupSkipped("notepad", "unchanged")
	ObserveFingerprint("notepad", 0.25)
	IncRestore("notepad", "ok")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	wantNames := map[string]bool{
		"snapwatch_watch_transitions_total":             false,
		"snapwatch_watch_running":                       false,
		"snapwatch_watch_check_errors_total":            false,
		"snapwatch_backup_created_total":                false,
		"snapwatch_backup_failed_total":                 false,
		"snapwatch_backup_skipped_total":                false,
		"snapwatch_backup_fingerprint_duration_seconds": false,
		"snapwatch_restore_total":                       false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			assert.NotEmpty(t, mf.GetMetric(), "metric %s has no samples", n)
		}
	}
	for n, ok := range wantNames {
		assert.True(t, ok, "expected to find metric %s", n)
	}

	assert.Equal(t, float64(0), testutil.ToFloat64(watchRunning.WithLabelValues("notepad")))
	assert.Equal(t, float64(1), testutil.ToFloat64(watchTransitions.WithLabelValues("notepad", "running")))
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncBackupCreated("x")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(b), "snapwatch_backup_created_total"))
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordTransition("c", true)
			IncBackupCreated("c")
			IncRestore("c", "error")
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	require.NoError(t, err)
}

func TestHelpersBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// no-ops, must not panic
	RecordTransition("test", true)
	SetRunning("test", false)
	Forget("test")
	IncCheckError("test")
	IncBackupCreated("test")
	IncBackupFailed("test")
	IncBackupSkipped("test", "no_pending")
	ObserveFingerprint("test", 1.0)
	IncRestore("test", "ok")
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	require.Error(t, err)
	assert.Equal(t, "test registration error", err.Error())
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
