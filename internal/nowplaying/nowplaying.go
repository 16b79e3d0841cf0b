// Package nowplaying forwards "currently playing media" snapshots from a
// platform source to the application's event emitter.
package nowplaying

import (
	"context"
	"log/slog"
	"sync"
)

// EventName is the event snapshots are emitted under.
const EventName = "now-playing-update"

// Snapshot describes the media that is playing. Durations are in seconds.
type Snapshot struct {
	Title       string  `json:"title,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	Album       string  `json:"album,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	ElapsedTime float64 `json:"elapsedTime,omitempty"`
	IsPlaying   bool    `json:"isPlaying"`
}

// Source pushes snapshots to handler until ctx is done.
type Source interface {
	Start(ctx context.Context, handler func(Snapshot)) error
}

// Emitter delivers a named event with a JSON-serializable payload.
type Emitter interface {
	Emit(event string, payload any)
}

// Watcher remembers the latest snapshot and emits each one.
type Watcher struct {
	source  Source
	emitter Emitter
	logger  *slog.Logger

	mu     sync.RWMutex
	latest *Snapshot
}

// NewWatcher creates a Watcher. A nil logger uses slog.Default().
func NewWatcher(source Source, emitter Emitter, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{source: source, emitter: emitter, logger: logger}
}

// Start registers with the source.
func (w *Watcher) Start(ctx context.Context) error {
	return w.source.Start(ctx, w.handle)
}

func (w *Watcher) handle(s Snapshot) {
	w.mu.Lock()
	w.latest = &s
	w.mu.Unlock()

	w.logger.Debug("[NowPlaying] update", "title", s.Title, "artist", s.Artist, "playing", s.IsPlaying)
	w.emitter.Emit(EventName, s)
}

// Latest returns the most recent snapshot, if any.
func (w *Watcher) Latest() (Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.latest == nil {
		return Snapshot{}, false
	}
	return *w.latest, true
}

// NoSource never produces snapshots.
type NoSource struct{}

func (NoSource) Start(context.Context, func(Snapshot)) error { return nil }
