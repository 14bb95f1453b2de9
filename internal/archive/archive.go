// Package archive assembles tier-filtered template archives. Every path is
// sanitized against the template root before it is read; entries that fail
// sanitization or are missing on disk are skipped, never fatal, so one
// absent optional asset cannot break a customer's download.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	FormatZip = "zip"
	FormatTar = "tar"
)

var ErrUnsupportedFormat = errors.New("unsupported archive format")

func ValidFormat(format string) bool {
	return format == FormatZip || format == FormatTar
}

// ContentType returns the response content type for a format.
func ContentType(format string) string {
	if format == FormatTar {
		return "application/x-tar"
	}
	return "application/zip"
}

// FileName returns the attachment filename for a tier and format.
func FileName(tier, format string) string {
	ext := ".zip"
	if format == FormatTar {
		ext = ".tar.gz"
	}
	return "template-" + tier + ext
}

type Builder struct {
	root string
}

func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

type entryWriter interface {
	add(name string, info fs.FileInfo, src io.Reader) error
}

// Build writes the tier's archive to w in the requested format and returns
// the number of files included.
func (b *Builder) Build(w io.Writer, tier, format string) (int, error) {
	switch format {
	case FormatZip:
		zw := zip.NewWriter(w)
		count, err := b.writeManifest(&zipEntryWriter{zw}, tier)
		if err != nil {
			zw.Close()
			return 0, err
		}
		return count, zw.Close()
	case FormatTar:
		gz := gzip.NewWriter(w)
		tw := tar.NewWriter(gz)
		count, err := b.writeManifest(&tarEntryWriter{tw}, tier)
		if err != nil {
			tw.Close()
			gz.Close()
			return 0, err
		}
		if err := tw.Close(); err != nil {
			gz.Close()
			return 0, err
		}
		return count, gz.Close()
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (b *Builder) writeManifest(ew entryWriter, tier string) (int, error) {
	count := 0
	for _, entry := range ManifestForTier(tier) {
		resolved, err := Resolve(b.root, entry)
		if err != nil {
			slog.Warn("Skipping manifest entry", "entry", entry, "error", err)
			continue
		}

		info, err := os.Stat(resolved)
		if err != nil {
			slog.Warn("Manifest entry missing on disk", "entry", entry)
			continue
		}

		if info.IsDir() {
			added, err := b.addDir(ew, resolved, entry)
			if err != nil {
				return count, err
			}
			count += added
			continue
		}

		if err := b.addFile(ew, resolved, filepath.ToSlash(entry), info); err != nil {
			slog.Warn("Skipping unreadable file", "entry", entry, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (b *Builder) addDir(ew entryWriter, dir, prefix string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("Skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if err := b.addFile(ew, path, name, info); err != nil {
			slog.Warn("Skipping unreadable file", "path", path, "error", err)
		} else {
			count++
		}
		return nil
	})
	return count, err
}

func (b *Builder) addFile(ew entryWriter, path, name string, info fs.FileInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ew.add(name, info, f)
}

type zipEntryWriter struct {
	zw *zip.Writer
}

func (w *zipEntryWriter) add(name string, info fs.FileInfo, src io.Reader) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = strings.TrimPrefix(name, "/")
	header.Method = zip.Deflate
	dst, err := w.zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

type tarEntryWriter struct {
	tw *tar.Writer
}

func (w *tarEntryWriter) add(name string, info fs.FileInfo, src io.Reader) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = strings.TrimPrefix(name, "/")
	if err := w.tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(w.tw, src)
	return err
}
