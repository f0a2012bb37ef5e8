package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// LoadFile reads a JSON document from file and writes it at path in
// namespace ns, replacing what was there.
func (b *Backend) LoadFile(ns, path, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode seed file %s: %w", file, err)
	}
	return b.Write(ns, path, v)
}

// WatchFile loads file like LoadFile and reloads it whenever it changes on
// disk, until ctx is done. Listeners observe reloads as ordinary writes.
// Reload failures are logged and the previous contents are kept.
func (b *Backend) WatchFile(ctx context.Context, ns, path, file string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("resolve seed file: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer func() {
		// Best-effort watcher close; no actionable error handling path.
		_ = w.Close()
	}()

	// Watch the directory: editors often replace files by rename, which drops
	// a watch placed on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("fsnotify add %s: %w", filepath.Dir(abs), err)
	}
	if err := b.LoadFile(ns, path, abs); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := b.LoadFile(ns, path, abs); err != nil {
				b.log.Warn("seed reload failed", slog.String("file", abs), slog.String("err", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}
