package refdata

import (
	"fmt"
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader reads a reference data file and hot-reloads it on change.
// A failed reload keeps the previous snapshot.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Reference
	onChange []func(*Reference)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	ref, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Loader{path: path, current: ref}, nil
}

// Static wraps an already built Reference. Reload and Watch are no-ops
// on the returned Loader.
func Static(ref *Reference) *Loader {
	return &Loader{current: ref}
}

// Reference returns the current snapshot.
func (l *Loader) Reference() *Reference {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Reference)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Reload forces an immediate re-read of the file.
func (l *Loader) Reload() (*Reference, error) {
	if l.path == "" {
		return l.Reference(), nil
	}
	ref, err := ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = ref
	callbacks := make([]func(*Reference), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(ref)
	}
	return ref, nil
}

// Watch reloads the file whenever it is written or replaced.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("refdata watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("refdata watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					ref, err := l.Reload()
					if err != nil {
						log.Printf("refdata: reload failed, keeping previous: %v", err)
						continue
					}
					log.Printf("refdata: reloaded %d postal codes, %d owned domains", len(ref.Neighborhoods), len(ref.AllDomains()))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("refdata: watcher: %v", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
