package pkgcache

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.trai.ch/zerr"
)

// extractArchive unpacks a package archive into dest. The compression is
// picked from the filename: .tar.bz2, .tar.zst or .tar.gz.
func extractArchive(path, dest string) error {
	f, err := os.Open(path) //nolint:gosec // path is derived from the cache root
	if err != nil {
		return zerr.Wrap(err, "failed to open archive")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader
	switch {
	case strings.HasSuffix(path, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(path, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return zerr.Wrap(err, "failed to open zstd stream")
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(path, ".tar.gz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return zerr.Wrap(err, "failed to open gzip stream")
		}
		defer func() { _ = gr.Close() }()
		r = gr
	default:
		return zerr.With(zerr.New("unsupported archive format"), "archive", filepath.Base(path))
	}

	return untar(r, dest)
}

func untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return zerr.Wrap(err, "failed to read archive entry")
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return zerr.Wrap(err, "failed to create directory")
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
				return zerr.Wrap(err, "failed to create directory")
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return zerr.Wrap(err, "failed to create symlink")
			}
		default:
			// Hard links and special files do not occur in package
			// archives; skip anything unexpected.
		}
	}
}

// safeJoin rejects entries that would escape the destination.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", zerr.With(zerr.New("archive entry escapes destination"), "entry", name)
	}
	return target, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return zerr.Wrap(err, "failed to create directory")
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode) //nolint:gosec // target is sanitized by safeJoin
	if err != nil {
		return zerr.Wrap(err, "failed to create file")
	}
	if _, err := io.Copy(f, r); err != nil { //nolint:gosec // archive sizes are bounded by the verified download
		_ = f.Close()
		return zerr.Wrap(err, "failed to write file")
	}
	return f.Close()
}
