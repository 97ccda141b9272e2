package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Ext is the file extension of report documents.
const Ext = ".xml"

// WriteError reports a failure to persist a report document.
type WriteError struct {
	Name      string
	Iteration int
	Path      string
	Err       error
}

func (e *WriteError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("write report %s (iteration %d) to %s: %v", e.Name, e.Iteration, e.Path, e.Err)
	}
	return fmt.Sprintf("write report %s (iteration %d): %v", e.Name, e.Iteration, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ErrPathCollision is wrapped by a WriteError when two different test names
// map to the same report file.
var ErrPathCollision = errors.New("report path already used by another test")

// Writer writes report documents below a single output directory. It
// remembers which test owns each path it has written, so a Writer should
// live for one run.
//
// Writer is safe for concurrent use.
type Writer struct {
	dir string

	mu     sync.Mutex
	owners map[string]string // path -> test name
}

// NewWriter returns a Writer rooted at dir. The directory is created lazily
// by the first Write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, owners: make(map[string]string)}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the file a report for the given test and iteration is written
// to. Names are NFC-normalized, leading slashes are dropped and the result is
// cleaned, so "/test/a", "test/a" and "test/./a" share a path. A name that
// would resolve outside of the output directory is rejected.
func (w *Writer) Path(name string, iteration int) (string, error) {
	rel := strings.TrimLeft(norm.NFC.String(name), "/")
	if rel == "" {
		return "", errors.New("empty test name")
	}
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("test name %q escapes the output directory", name)
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s.%d%s", rel, iteration, Ext)), nil
}

// Write persists body as the report for one test iteration and returns the
// path written. Parent directories are created as needed. Writing the same
// test and iteration again replaces the file, but a path already written for
// a different test name is refused with ErrPathCollision. Every failure is
// returned as a *WriteError; callers treat them as non-fatal.
func (w *Writer) Write(name string, iteration int, body []byte) (string, error) {
	path, err := w.Path(name, iteration)
	if err != nil {
		return "", &WriteError{Name: name, Iteration: iteration, Err: err}
	}
	if err := w.claim(path, name); err != nil {
		return "", &WriteError{Name: name, Iteration: iteration, Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &WriteError{Name: name, Iteration: iteration, Path: path, Err: err}
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", &WriteError{Name: name, Iteration: iteration, Path: path, Err: err}
	}
	return path, nil
}

func (w *Writer) claim(path, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if owner, ok := w.owners[path]; ok && owner != name {
		return fmt.Errorf("%w: %q", ErrPathCollision, owner)
	}
	w.owners[path] = name
	return nil
}
