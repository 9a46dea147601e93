package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/log"
)

// Archiver compacts a service log directory into a zip placed beside it.
type Archiver struct {
	now    func() time.Time
	logger *log.Logger
}

// NewArchiver creates an archiver. A nil now uses the wall clock and a nil logger discards.
func NewArchiver(now func() time.Time, logger *log.Logger) *Archiver {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Archiver{now: now, logger: logger}
}

// Result describes one archive run.
type Result struct {
	Path     string
	Archived int
	Skipped  int
}

// Archive writes every regular file listed in dir into
// <parent>/<service>_logs_<epochMillis>.zip and deletes the included sources.
// Files created after the listing are left for the next run. An empty
// directory produces no archive.
func (a *Archiver) Archive(service, dir string) (Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return Result{}, nil
	}

	path := filepath.Join(filepath.Dir(filepath.Clean(dir)), FileName(service, a.now()))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	result := Result{Path: path}
	var included []string
	for _, src := range files {
		if err := addFile(zw, src); err != nil {
			result.Skipped++
			a.logger.LogError("archive", err, map[string]interface{}{"service": service, "file": src})
			continue
		}
		included = append(included, src)
	}

	if err := errors.Join(zw.Close(), out.Close()); err != nil {
		os.Remove(path)
		return Result{}, fmt.Errorf("finalize %s: %w", path, err)
	}
	if len(included) == 0 {
		os.Remove(path)
		return Result{Skipped: result.Skipped}, fmt.Errorf("no files of %s could be archived", dir)
	}

	// Sources go only once the archive holding them is complete on disk.
	var removeErr error
	for _, src := range included {
		if err := os.Remove(src); err != nil {
			removeErr = errors.Join(removeErr, err)
			continue
		}
		result.Archived++
	}
	return result, removeErr
}

func addFile(zw *zip.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(src)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

// FileName returns the archive name of service at t.
func FileName(service string, t time.Time) string {
	return fmt.Sprintf("%s_logs_%d.zip", service, t.UnixMilli())
}

// Dir returns the archive working directory of svc under root.
func Dir(root string, svc config.Service) string {
	return filepath.Join(root, svc.Key())
}

// PrepareDir creates the archive working directory of svc.
func PrepareDir(root string, svc config.Service) error {
	if err := os.MkdirAll(Dir(root, svc), 0o755); err != nil {
		return fmt.Errorf("create archive directory for %s: %w", svc.Name, err)
	}
	return nil
}
