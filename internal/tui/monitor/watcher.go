package monitor

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/elena/xp/internal/db"
)

// WatchStore watches the data directory and emits one signal per burst of
// writes to the store file. SQLite touches the main file, the -wal and the
// -shm in quick succession, so raw events are debounced into a single
// notification. The channel holds at most one pending signal.
func WatchStore(dataDir string, debounce time.Duration) (<-chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(dataDir); err != nil {
		watcher.Close()
		return nil, nil, err
	}

	if debounce <= 0 {
		debounce = time.Second
	}

	storeBase := filepath.Base(db.StorePath(dataDir))
	ch := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(event.Name), storeBase) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timerC:
						default:
						}
					}
					timer.Reset(debounce)
				}

			case <-timerC:
				timer = nil
				timerC = nil
				select {
				case ch <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("store watch", "err", err)
			}
		}
	}()

	cancel := func() {
		close(done)
		watcher.Close()
	}
	return ch, cancel, nil
}
