package archive_fs

import (
	"archive/tar"
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/relforge/relforge/internal/domain"
)

// Archiver packages a built binary into a compressed archive and produces
// sha256 checksum sidecars. Unix targets get tarballs, the Windows target
// gets a zip.
type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Pack(ctx context.Context, src, dest string, format domain.ArchiveFormat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	switch format {
	case domain.FormatTarGz:
		return packTarGz(src, dest)
	case domain.FormatZip:
		return packZip(src, dest)
	default:
		return fmt.Errorf("unsupported archive format %q", format)
	}
}

// Checksum returns the lowercase hex sha256 digest of the file's exact bytes.
func (a *Archiver) Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksum writes "<path>.sha256" containing only the digest and
// returns the sidecar path.
func (a *Archiver) WriteChecksum(path string) (string, error) {
	digest, err := a.Checksum(path)
	if err != nil {
		return "", err
	}

	sidecar := path + ".sha256"
	if err := os.WriteFile(sidecar, []byte(digest), 0o644); err != nil {
		return "", err
	}
	return sidecar, nil
}

func packTarGz(src, dest string) error {
	in, info, err := openSource(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:    filepath.Base(src),
		Mode:    0o755,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, in); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Sync()
}

func packZip(src, dest string) error {
	in, info, err := openSource(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	zw := zip.NewWriter(out)
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(src)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Sync()
}

func openSource(src string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, nil, fmt.Errorf("open binary: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("binary path %q is a directory", src)
	}
	return f, info, nil
}
