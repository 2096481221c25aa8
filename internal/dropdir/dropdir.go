package dropdir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrDirectoryUnavailable is returned when the drop directory cannot be read.
	ErrDirectoryUnavailable = errors.New("drop directory unavailable")

	// ErrUnsafeName is returned for upload names that could escape the drop
	// directory.
	ErrUnsafeName = errors.New("unsafe file name")
)

// copyBufSize bounds the memory used per upload.
const copyBufSize = 1024 * 1024

// Entry is one regular file in the drop directory.
type Entry struct {
	Name      string
	Size      int64
	SizeLabel string
}

// Dir is the drop directory: uploads land here and listings are read from it.
// It holds no state besides its path, so it is safe for concurrent use.
type Dir struct {
	path string
}

// Open creates dir if needed and returns it with an absolute, symlink-free path.
func Open(dir string) (*Dir, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("drop directory path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create drop directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve drop directory: %w", err)
	}
	return &Dir{path: abs}, nil
}

// Path returns the canonical directory path.
func (d *Dir) Path() string { return d.path }

// Snapshot lists the directory. See Snapshot.
func (d *Dir) Snapshot() ([]Entry, error) { return Snapshot(d.path) }

// Snapshot lists the regular files in dir sorted by name. Entries that vanish
// between the directory read and their stat are skipped.
func Snapshot(dir string) ([]Entry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return regularFiles(ents), nil
}

// regularFiles turns directory entries into sorted Entries, skipping anything
// that is not a regular file or can no longer be stat'ed.
func regularFiles(ents []fs.DirEntry) []Entry {
	files := make([]Entry, 0, len(ents))
	for _, e := range ents {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, Entry{
			Name:      e.Name(),
			Size:      info.Size(),
			SizeLabel: FormatSize(info.Size()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}

// FormatSize converts bytes to a short label in B, KiB or MiB.
func FormatSize(bytes int64) string {
	const unit = 1024
	switch {
	case bytes < unit:
		return fmt.Sprintf("%d B", bytes)
	case bytes < unit*unit:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/unit)
	default:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/(unit*unit))
	}
}

// CheckName reports whether name can be stored as-is directly under the drop
// directory. Names with path separators, NUL bytes, "." or ".." are refused.
func CheckName(name string) error {
	switch {
	case name == "." || name == "..":
	case strings.ContainsAny(name, "/\\\x00"):
	default:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsafeName, name)
}

// Ingest stores r under name and returns the written path. An empty name is
// skipped without error and returns "". An existing file of the same name is
// truncated; concurrent uploads of one name race at the filesystem level.
func (d *Dir) Ingest(name string, r io.Reader) (string, error) {
	if name == "" {
		return "", nil
	}
	if err := CheckName(name); err != nil {
		return "", err
	}
	dst := filepath.Join(d.path, name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(onlyWriter{f}, r, buf); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return dst, nil
}

// onlyWriter hides *os.File's ReadFrom so CopyBuffer honours our buffer.
type onlyWriter struct{ w io.Writer }

func (o onlyWriter) Write(p []byte) (int, error) { return o.w.Write(p) }
