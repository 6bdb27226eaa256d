// Package ports defines the core interfaces for the application.
package ports

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// DownloadMode selects the batch failure policy of a Downloader run.
type DownloadMode int

const (
	// RequireAll aborts the whole batch on the first hard failure.
	RequireAll DownloadMode = iota
	// BestEffort runs every target and reports per-target results.
	BestEffort
)

// DownloadTarget describes one resource to fetch.
type DownloadTarget struct {
	// URL is the remote resource.
	URL string

	// Dest is the local path the payload is written to. The write is
	// atomic: a temp file in the same directory renamed into place.
	Dest string

	// ExpectedSize, when nonzero, is checked after the transfer.
	ExpectedSize int64

	// ExpectedDigest, when set, is verified while streaming. A mismatch
	// is a hard integrity failure and is never retried.
	ExpectedDigest digest.Digest

	// ETag and LastModified, when set, make the request conditional.
	ETag         string
	LastModified string
}

// DownloadStatus is the per-target outcome.
type DownloadStatus int

const (
	// StatusFetched means a full payload was written to Dest.
	StatusFetched DownloadStatus = iota
	// StatusNotModified means the server confirmed the cached copy.
	StatusNotModified
	// StatusFailed means the target failed after exhausting its retries.
	StatusFailed
)

// DownloadResult reports one target's outcome.
type DownloadResult struct {
	Target DownloadTarget
	Status DownloadStatus

	// ETag and LastModified echo the response validators for the caller
	// to persist alongside the payload.
	ETag         string
	LastModified string

	Err error
}

// Downloader schedules a batch of downloads with bounded concurrency and
// per-target retry.
type Downloader interface {
	Run(ctx context.Context, targets []DownloadTarget, mode DownloadMode) ([]DownloadResult, error)
}
