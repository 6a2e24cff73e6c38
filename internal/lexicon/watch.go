package lexicon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-merges a lexicon overlay file whenever it changes and publishes
// the result through a Holder. It watches the parent directory rather than
// the file itself so editor save strategies that replace the file keep
// working. A broken overlay is logged and skipped; the previous snapshot
// stays active.
type Watcher struct {
	path     string
	base     *Lexicon
	holder   *Holder
	log      *zap.Logger
	fsw      *fsnotify.Watcher
	debounce time.Duration
	doneCh   chan struct{}
}

// NewWatcher prepares a watcher for the overlay at path. base is the lexicon
// the overlay merges onto, normally Default().
func NewWatcher(path string, base *Lexicon, holder *Holder, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		base:     base,
		holder:   holder,
		log:      log,
		fsw:      fsw,
		debounce: 300 * time.Millisecond,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking; the watcher stops when ctx is
// cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Close stops the watcher and releases the fsnotify handle.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// rapid saves collapse into one reload
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("lexicon watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	overlay, err := LoadOverlay(w.path)
	if err != nil {
		w.log.Warn("lexicon overlay reload failed, keeping previous snapshot",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	next, err := w.base.Merge(overlay)
	if err != nil {
		w.log.Warn("lexicon overlay merge failed, keeping previous snapshot",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.holder.Store(next)
	w.log.Info("lexicon overlay reloaded", zap.String("path", w.path))
}
