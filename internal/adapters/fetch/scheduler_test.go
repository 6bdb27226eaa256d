package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/marimeireles/mamba/internal/adapters/fetch"
	"github.com/marimeireles/mamba/internal/adapters/telemetry"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(error)          {}

func newScheduler(t *testing.T, retries int) *fetch.Scheduler {
	t.Helper()
	opts := domain.DefaultOptions()
	opts.Workers = 2
	opts.MaxRetries = retries
	s, err := fetch.New(opts, telemetry.NewNoOpTracer(), nopLogger{})
	require.NoError(t, err)
	return s
}

func TestRun_FetchesPayloadWithDigest(t *testing.T) {
	payload := []byte("payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "repodata.json")
	results, err := newScheduler(t, 0).Run(context.Background(), []ports.DownloadTarget{{
		URL:            srv.URL,
		Dest:           dest,
		ExpectedSize:   int64(len(payload)),
		ExpectedDigest: digest.FromBytes(payload),
	}}, ports.RequireAll)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, ports.StatusFetched, results[0].Status)
	assert.Equal(t, `"v1"`, results[0].ETag)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRun_DigestMismatchFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pkg.tar.bz2")
	results, err := newScheduler(t, 3).Run(context.Background(), []ports.DownloadTarget{{
		URL:            srv.URL,
		Dest:           dest,
		ExpectedDigest: digest.FromString("what the server should have sent"),
	}}, ports.RequireAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Equal(t, ports.StatusFailed, results[0].Status)
	assert.EqualValues(t, 1, hits.Load(), "integrity failures must not be retried")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no partial payload may be published")
}

func TestRun_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file")
	results, err := newScheduler(t, 2).Run(context.Background(), []ports.DownloadTarget{{
		URL:  srv.URL,
		Dest: dest,
	}}, ports.RequireAll)
	require.NoError(t, err)
	assert.Equal(t, ports.StatusFetched, results[0].Status)
	assert.EqualValues(t, 2, hits.Load())
}

func TestRun_ClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file")
	_, err := newScheduler(t, 3).Run(context.Background(), []ports.DownloadTarget{{
		URL:  srv.URL,
		Dest: dest,
	}}, ports.RequireAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.EqualValues(t, 1, hits.Load())
}

func TestRun_ConditionalRequestNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file")
	results, err := newScheduler(t, 0).Run(context.Background(), []ports.DownloadTarget{{
		URL:  srv.URL,
		Dest: dest,
		ETag: `"v1"`,
	}}, ports.RequireAll)
	require.NoError(t, err)
	assert.Equal(t, ports.StatusNotModified, results[0].Status)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "a 304 must leave the destination untouched")
}

func TestRun_BestEffortReportsPerTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	results, err := newScheduler(t, 0).Run(context.Background(), []ports.DownloadTarget{
		{URL: srv.URL + "/good", Dest: filepath.Join(dir, "good")},
		{URL: srv.URL + "/bad", Dest: filepath.Join(dir, "bad")},
	}, ports.BestEffort)
	require.NoError(t, err, "best effort mode never fails the batch")
	require.Len(t, results, 2)

	assert.Equal(t, ports.StatusFetched, results[0].Status)
	assert.Equal(t, ports.StatusFailed, results[1].Status)
	assert.Error(t, results[1].Err)
}
