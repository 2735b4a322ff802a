package keystore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
)

// File is a KeyStore that serves a JWKS document from disk. The parent
// directory is watched so that both in-place writes and atomic
// rename-into-place rotations are picked up. A rewrite that fails to parse
// leaves the previously loaded keys in service.
type File struct {
	path    string
	log     *slog.Logger
	current atomic.Pointer[loadedKeys]
	watcher *fsnotify.Watcher

	closeOnce sync.Once
	done      chan struct{}
}

type loadedKeys struct {
	kf keyfunc.Keyfunc
}

// NewFile loads path and starts watching it for changes until ctx is
// cancelled or Close is called. A nil logger discards log output.
func NewFile(ctx context.Context, path string, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: resolve path: %w", err)
	}

	f := &File{
		path: abs,
		log:  log.With(slog.String("jwks_file", abs)),
		done: make(chan struct{}),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("keystore: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("keystore: watch %s: %w", filepath.Dir(abs), err)
	}
	f.watcher = w

	go f.watch(ctx)

	return f, nil
}

// Reload re-reads the JWKS file and swaps it in on success.
func (f *File) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("keystore: read %s: %w", f.path, err)
	}
	kf, err := parseJWKS(raw)
	if err != nil {
		return err
	}
	f.current.Store(&loadedKeys{kf: kf})
	return nil
}

func (f *File) Keyfunc(token *jwt.Token) (any, error) {
	return f.current.Load().kf.Keyfunc(token)
}

func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
	})
	return err
}

func (f *File) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = f.Close()
			return
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := f.Reload(); err != nil {
				f.log.Warn("jwks reload failed; keeping previous keys", slog.String("err", err.Error()))
				continue
			}
			f.log.Info("jwks reloaded")
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}

var _ KeyStore = (*File)(nil)
