// Package fetch implements the download scheduler: bounded-concurrency
// transfers with per-target retry, conditional requests and digest
// verification.
package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"github.com/opencontainers/go-digest"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

const (
	httpClientTimeout = 5 * time.Minute
	initialBackoff    = 500 * time.Millisecond
)

// Scheduler implements ports.Downloader.
type Scheduler struct {
	client     *http.Client
	workers    int
	maxRetries int
	tracer     ports.Tracer
	logger     ports.Logger
}

// New creates a Scheduler honoring the invocation's worker bound, retry
// budget and TLS policy.
func New(opts domain.Options, tracer ports.Tracer, log ports.Logger) (*Scheduler, error) {
	transport, err := newTransport(opts)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Scheduler{
		client: &http.Client{
			Timeout:   httpClientTimeout,
			Transport: transport,
		},
		workers:    workers,
		maxRetries: opts.MaxRetries,
		tracer:     tracer,
		logger:     log,
	}, nil
}

func newTransport(opts domain.Options) (*http.Transport, error) {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
	}
	transport = transport.Clone()

	switch {
	case !opts.SSLVerify:
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit user opt-out
	case opts.CACertPath != "":
		pem, err := os.ReadFile(opts.CACertPath) //nolint:gosec // path comes from user config
		if err != nil {
			return nil, zerr.With(fmt.Errorf("%w: %w", domain.ErrConfig, err), "cacert_path", opts.CACertPath)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, zerr.With(zerr.With(zerr.Wrap(domain.ErrConfig, ""), "reason", "no certificates in bundle"), "cacert_path", opts.CACertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return transport, nil
}

// Run fetches all targets with bounded concurrency. In RequireAll mode the
// first hard failure cancels the remaining transfers and is returned; in
// BestEffort mode every target runs and failures are reported per result.
func (s *Scheduler) Run(ctx context.Context, targets []ports.DownloadTarget, mode ports.DownloadMode) ([]ports.DownloadResult, error) {
	results := make([]ports.DownloadResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, target := range targets {
		g.Go(func() error {
			res := s.fetchWithRetry(gctx, target)
			results[i] = res
			if res.Err != nil && mode == ports.RequireAll {
				return res.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *Scheduler) fetchWithRetry(ctx context.Context, target ports.DownloadTarget) ports.DownloadResult {
	ctx, span := s.tracer.Start(ctx, "download "+filepath.Base(target.Dest), ports.WithTotal(target.ExpectedSize))
	defer span.End()
	span.SetAttribute("url", target.URL)

	var res ports.DownloadResult

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialBackoff
	boff := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxRetries)), ctx)

	err := backoff.Retry(func() error {
		var attemptErr error
		res, attemptErr = s.fetchOnce(ctx, target)
		if attemptErr != nil {
			s.logger.Debug("download attempt failed", "url", target.URL, "error", attemptErr)
		}
		return attemptErr
	}, boff)
	if err != nil {
		span.RecordError(err)
		return ports.DownloadResult{Target: target, Status: ports.StatusFailed, Err: err}
	}

	span.SetAttribute("status", int(res.Status))
	return res
}

// fetchOnce performs one transfer attempt. Client errors and integrity
// failures come back wrapped in backoff.Permanent so they are not retried.
func (s *Scheduler) fetchOnce(ctx context.Context, target ports.DownloadTarget) (ports.DownloadResult, error) {
	res := ports.DownloadResult{Target: target}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, http.NoBody)
	if err != nil {
		return res, backoff.Permanent(zerr.With(fmt.Errorf("%w: %w", domain.ErrFetch, err), "url", target.URL))
	}
	if target.ETag != "" {
		req.Header.Set("If-None-Match", target.ETag)
	}
	if target.LastModified != "" {
		req.Header.Set("If-Modified-Since", target.LastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return res, zerr.With(fmt.Errorf("%w: %w", domain.ErrFetch, err), "url", target.URL)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		res.Status = ports.StatusNotModified
		return res, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to the payload write
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return res, zerr.With(zerr.With(zerr.Wrap(domain.ErrFetch, ""), "status_code", resp.StatusCode), "url", target.URL)
	default:
		// 4xx: the server will not change its mind, do not retry
		hardErr := zerr.With(zerr.With(zerr.Wrap(domain.ErrFetch, ""), "status_code", resp.StatusCode), "url", target.URL)
		return res, backoff.Permanent(hardErr)
	}

	written, err := s.writePayload(target, resp.Body)
	if err != nil {
		return res, err
	}

	if target.ExpectedSize > 0 && written != target.ExpectedSize {
		sizeErr := zerr.With(zerr.Wrap(domain.ErrIntegrity, ""), "url", target.URL)
		sizeErr = zerr.With(sizeErr, "expected_size", target.ExpectedSize)
		return res, backoff.Permanent(zerr.With(sizeErr, "actual_size", written))
	}

	res.Status = ports.StatusFetched
	res.ETag = resp.Header.Get("ETag")
	res.LastModified = resp.Header.Get("Last-Modified")
	return res, nil
}

// writePayload streams the body to a temp file next to Dest, verifying the
// digest on the fly, and renames it into place so readers never observe a
// torn write.
func (s *Scheduler) writePayload(target ports.DownloadTarget, body io.Reader) (int64, error) {
	dir := filepath.Dir(target.Dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, backoff.Permanent(zerr.Wrap(err, "failed to create download directory"))
	}

	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return 0, backoff.Permanent(zerr.Wrap(err, "failed to create temp file"))
	}
	tmpName := tmp.Name()
	defer func() {
		if _, statErr := os.Stat(tmpName); statErr == nil {
			_ = os.Remove(tmpName)
		}
	}()

	var w io.Writer = tmp
	var verifier digest.Verifier
	if target.ExpectedDigest != "" {
		verifier = target.ExpectedDigest.Verifier()
		w = io.MultiWriter(tmp, verifier)
	}

	written, err := io.Copy(w, body)
	if err != nil {
		_ = tmp.Close()
		return written, zerr.With(fmt.Errorf("%w: %w", domain.ErrFetch, err), "url", target.URL)
	}
	if err := tmp.Close(); err != nil {
		return written, zerr.Wrap(err, "failed to close temp file")
	}

	if verifier != nil && !verifier.Verified() {
		mismatch := zerr.With(zerr.Wrap(domain.ErrIntegrity, ""), "url", target.URL)
		return written, backoff.Permanent(zerr.With(mismatch, "expected_digest", target.ExpectedDigest.String()))
	}

	if err := os.Rename(tmpName, target.Dest); err != nil {
		return written, backoff.Permanent(zerr.Wrap(err, "failed to publish download"))
	}
	return written, nil
}

var _ ports.Downloader = (*Scheduler)(nil)
