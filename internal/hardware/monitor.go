package hardware

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Handler receives card transitions. rm.Manager.SSRHandler satisfies it.
type Handler func(models.CardStatus) error

// CardMonitor watches the card state node and reports transitions.
// procfs and sysfs nodes do not raise inotify events, so the node is
// polled as well as watched.
type CardMonitor struct {
	path     string
	interval time.Duration
	handler  Handler

	last  models.CardStatus
	known bool
}

// NewCardMonitor creates a monitor for the node at path.
func NewCardMonitor(path string, interval time.Duration, h Handler) *CardMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &CardMonitor{path: path, interval: interval, handler: h}
}

// Run reports the current state, then every change, until ctx is done.
func (m *CardMonitor) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("card monitor: could not create fsnotify watcher, polling only", "err", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(m.path)); err != nil {
			slog.Warn("card monitor: could not watch state node dir", "path", m.path, "err", err)
		}
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == m.path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove)) {
				m.check()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("card monitor: watcher error", "err", err)
		}
	}
}

// check reads the node and reports a change. A node that disappears after
// it was read once means the card went away.
func (m *CardMonitor) check() {
	state, err := ReadCardState(m.path)
	if err != nil {
		if !m.known || !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("card monitor: read failed", "path", m.path, "err", err)
			return
		}
		state = models.CardStatusOffline
	}
	if m.known && state == m.last {
		return
	}
	m.last, m.known = state, true
	slog.Info("card monitor: card state", "state", state.String())
	if err := m.handler(state); err != nil {
		slog.Warn("card monitor: handler failed", "state", state.String(), "err", err)
	}
}
