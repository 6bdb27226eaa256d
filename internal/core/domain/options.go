package domain

import (
	"os"
	"path/filepath"
	"runtime"

	"go.trai.ch/zerr"
)

// Options carries every ambient setting for one invocation. It is built by
// the CLI layer from flags and the config file and passed explicitly into
// constructors, so independent invocations can run side by side in-process.
type Options struct {
	// RootPrefix is the root installation owning the shared package cache.
	RootPrefix string

	// TargetPrefix is the environment being mutated.
	TargetPrefix string

	// Channels are the configured channel URLs, best priority first.
	Channels []string

	// Platform is the channel platform tag (e.g. "linux-64").
	Platform string

	AlwaysYes      bool
	DryRun         bool
	Offline        bool
	JSON           bool
	Quiet          bool
	Verbosity      int
	AllowDowngrade bool

	// SSLVerify toggles TLS certificate verification; CACertPath optionally
	// names a custom bundle.
	SSLVerify  bool
	CACertPath string

	// Workers bounds concurrent downloads. Zero means NumCPU.
	Workers int

	// MaxRetries bounds transient-failure retries per download.
	MaxRetries int

	// RCFile is the configuration file consulted for unset values.
	RCFile string
}

// DefaultOptions returns options with the defaults the CLI starts from.
// The root prefix comes from MAMBA_ROOT_PREFIX when set.
func DefaultOptions() Options {
	root := os.Getenv("MAMBA_ROOT_PREFIX")
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, ".mamba")
		}
	}
	rc := ""
	if home, err := os.UserHomeDir(); err == nil {
		rc = filepath.Join(home, ".mambarc")
	}
	return Options{
		RootPrefix: root,
		RCFile:     rc,
		Platform:   currentPlatform(),
		SSLVerify:  true,
		Workers:    runtime.NumCPU(),
		MaxRetries: 3,
	}
}

// Validate checks that the options name a usable root and target prefix.
// requireTarget is false for operations that create the prefix themselves.
func (o *Options) Validate(requireTarget bool) error {
	if o.RootPrefix == "" {
		return zerr.With(zerr.Wrap(ErrConfig, ""), "reason", "root prefix is not set")
	}
	if o.TargetPrefix == "" {
		return zerr.With(zerr.Wrap(ErrConfig, ""), "reason", "target prefix is not set")
	}
	if requireTarget {
		if _, err := os.Stat(o.TargetPrefix); err != nil {
			return zerr.With(zerr.Wrap(ErrPrefixNotFound, ""), "prefix", o.TargetPrefix)
		}
	}
	return nil
}

// PkgsDir is the shared package cache directory under the root prefix.
func (o *Options) PkgsDir() string {
	return filepath.Join(o.RootPrefix, "pkgs")
}

// RepodataCacheDir is where cached channel repodata lives.
func (o *Options) RepodataCacheDir() string {
	return filepath.Join(o.PkgsDir(), "cache")
}

func currentPlatform() string {
	switch {
	case runtime.GOOS == "linux" && runtime.GOARCH == "amd64":
		return "linux-64"
	case runtime.GOOS == "linux" && runtime.GOARCH == "arm64":
		return "linux-aarch64"
	case runtime.GOOS == "darwin" && runtime.GOARCH == "amd64":
		return "osx-64"
	case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		return "osx-arm64"
	case runtime.GOOS == "windows":
		return "win-64"
	default:
		return "noarch"
	}
}
