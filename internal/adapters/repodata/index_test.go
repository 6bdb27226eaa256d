package repodata_test

import (
	"context"
	"os"
	"testing"

	"github.com/marimeireles/mamba/internal/adapters/repodata"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingLogger struct {
	warns []string
}

func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Info(string, ...any)  {}
func (l *capturingLogger) Error(error)          {}

func (l *capturingLogger) Warn(msg string, _ ...any) {
	l.warns = append(l.warns, msg)
}

// scriptedDownloader plays back one canned response per Run call.
type scriptedDownloader struct {
	payloads []string // "" means 304, "ERROR" means hard failure
	etags    []string
	calls    int
	lastETag string
}

func (d *scriptedDownloader) Run(_ context.Context, targets []ports.DownloadTarget, _ ports.DownloadMode) ([]ports.DownloadResult, error) {
	i := d.calls
	d.calls++
	d.lastETag = targets[0].ETag

	payload := d.payloads[i]
	switch payload {
	case "ERROR":
		return nil, domain.ErrFetch
	case "":
		return []ports.DownloadResult{{Target: targets[0], Status: ports.StatusNotModified}}, nil
	default:
		if err := os.WriteFile(targets[0].Dest, []byte(payload), 0o600); err != nil {
			return nil, err
		}
		return []ports.DownloadResult{{
			Target: targets[0],
			Status: ports.StatusFetched,
			ETag:   d.etags[i],
		}}, nil
	}
}

const repodataV1 = `{
  "info": {"subdir": "linux-64"},
  "packages": {
    "foo-1.0-0.tar.bz2": {"name": "foo", "version": "1.0", "build": "0", "build_number": 0, "size": 42, "sha256": "aa"},
    "bar-2.0-0.tar.bz2": {"name": "bar", "version": "2.0", "build": "0", "depends": ["foo >=1.0"]}
  }
}`

func channel(t *testing.T) domain.Channel {
	t.Helper()
	c, err := domain.ParseChannel("conda-forge", "linux-64")
	require.NoError(t, err)
	return c
}

func names(records []*domain.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

func TestLoad_FetchesThenRevalidates(t *testing.T) {
	dl := &scriptedDownloader{
		payloads: []string{repodataV1, ""},
		etags:    []string{`"v1"`, ""},
	}
	idx, err := repodata.NewIndex(t.TempDir(), false, dl, &capturingLogger{})
	require.NoError(t, err)

	ch := channel(t)
	records, err := idx.Load(context.Background(), ch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names(records))
	assert.True(t, idx.Changed(ch))
	assert.Empty(t, dl.lastETag, "first fetch has no validators")

	records, err = idx.Load(context.Background(), ch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names(records))
	assert.False(t, idx.Changed(ch), "304 leaves the cache unchanged")
	assert.Equal(t, `"v1"`, dl.lastETag, "revalidation sends the stored ETag")
}

func TestLoad_OfflineUsesCacheOrFails(t *testing.T) {
	cacheDir := t.TempDir()
	ch := channel(t)

	idx, err := repodata.NewIndex(cacheDir, true, &scriptedDownloader{}, &capturingLogger{})
	require.NoError(t, err)
	_, err = idx.Load(context.Background(), ch)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	assert.ErrorIs(t, err, domain.ErrFetch, "an offline miss is a fetch failure")

	// Warm the cache online, then read it back offline.
	dl := &scriptedDownloader{payloads: []string{repodataV1}, etags: []string{`"v1"`}}
	warm, err := repodata.NewIndex(cacheDir, false, dl, &capturingLogger{})
	require.NoError(t, err)
	_, err = warm.Load(context.Background(), ch)
	require.NoError(t, err)

	records, err := idx.Load(context.Background(), ch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names(records))
}

func TestLoad_FallsBackToCacheOnFetchFailure(t *testing.T) {
	dl := &scriptedDownloader{
		payloads: []string{repodataV1, "ERROR"},
		etags:    []string{`"v1"`, ""},
	}
	log := &capturingLogger{}
	idx, err := repodata.NewIndex(t.TempDir(), false, dl, log)
	require.NoError(t, err)

	ch := channel(t)
	_, err = idx.Load(context.Background(), ch)
	require.NoError(t, err)

	records, err := idx.Load(context.Background(), ch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names(records))
	assert.NotEmpty(t, log.warns, "fallback must be visible in the logs")
}

func TestLoad_FetchFailureWithoutCacheIsFatal(t *testing.T) {
	dl := &scriptedDownloader{payloads: []string{"ERROR"}}
	idx, err := repodata.NewIndex(t.TempDir(), false, dl, &capturingLogger{})
	require.NoError(t, err)

	_, err = idx.Load(context.Background(), channel(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestParse_ValidatesAndDecorates(t *testing.T) {
	data := []byte(`{
	  "packages": {
	    "good-1.0-0.tar.bz2": {"name": "good", "version": "1.0", "build": "0", "depends": ["python 3.7.*", "openssl 1.1.1 h7b6447c_0"]},
	    "bad-version-0.tar.bz2": {"name": "bad", "version": "oops!!", "build": "0"},
	    "bad-deps-1.0-0.tar.bz2": {"name": "bad-deps", "version": "1.0", "build": "0", "depends": ["=="]},
	    "anon.tar.bz2": {"version": "1.0", "build": "0"}
	  }
	}`)

	records, err := repodata.Parse(data, channel(t))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "good", rec.Name)
	assert.Equal(t, "conda-forge", rec.Channel.String())
	assert.Equal(t, "linux-64", rec.Subdir.String())
	assert.Equal(t, "good-1.0-0.tar.bz2", rec.Filename)
	assert.Equal(t, "https://conda.anaconda.org/conda-forge/linux-64/good-1.0-0.tar.bz2", rec.URL)

	specs, err := rec.DependSpecs()
	require.NoError(t, err, "space separated dependency forms must parse")
	assert.Len(t, specs, 2)
}

func TestParse_Malformed(t *testing.T) {
	_, err := repodata.Parse([]byte("not json"), channel(t))
	require.Error(t, err)
}
