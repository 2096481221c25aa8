package pages

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// FileSource serves templates read from a file and recompiles them whenever
// the file changes on disk. A document that fails to parse is logged and the
// previous set stays in use.
type FileSource struct {
	path    string
	cur     atomic.Pointer[Set]
	watcher *fsnotify.Watcher
	logger  *log.Logger
	done    chan struct{}
}

// Watch loads the template document at path and starts watching it.
func Watch(path string, logger *log.Logger) (*FileSource, error) {
	if logger == nil {
		logger = log.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	s := &FileSource{path: abs, logger: logger, done: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of
	// writing it in place, which drops a watch on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	s.watcher = w
	go s.watchLoop()
	return s, nil
}

// Templates returns the most recently loaded set.
func (s *FileSource) Templates() (*Set, error) {
	return s.cur.Load(), nil
}

// Close stops watching.
func (s *FileSource) Close() error {
	err := s.watcher.Close()
	<-s.done
	return err
}

func (s *FileSource) reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read templates: %w", err)
	}
	set, err := Parse(string(b))
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	s.cur.Store(set)
	return nil
}

func (s *FileSource) watchLoop() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Printf("Warning: keeping previous templates: %v", err)
				continue
			}
			s.logger.Printf("templates reloaded from %s", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("Warning: template watcher: %v", err)
		}
	}
}
