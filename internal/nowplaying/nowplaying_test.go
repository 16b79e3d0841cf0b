package nowplaying

import (
	"context"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	last   any
}

func (e *recordingEmitter) Emit(event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	e.last = payload
}

// staticSource pushes fixed snapshots synchronously.
type staticSource struct {
	snapshots []Snapshot
}

func (s staticSource) Start(_ context.Context, handler func(Snapshot)) error {
	for _, snap := range s.snapshots {
		handler(snap)
	}
	return nil
}

func TestWatcherEmitsAndRemembers(t *testing.T) {
	emitter := &recordingEmitter{}
	w := NewWatcher(staticSource{snapshots: []Snapshot{
		{Title: "One", IsPlaying: true},
		{Title: "Two", Artist: "Band", IsPlaying: false},
	}}, emitter, nil)

	_, ok := w.Latest()
	assert.False(t, ok)

	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []string{EventName, EventName}, emitter.events)
	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, "Two", latest.Title)
	assert.Equal(t, latest, emitter.last)
}

func TestNoSource(t *testing.T) {
	emitter := &recordingEmitter{}
	w := NewWatcher(NoSource{}, emitter, nil)

	require.NoError(t, w.Start(context.Background()))
	assert.Empty(t, emitter.events)
}

func TestSnapshotFromMetadata(t *testing.T) {
	md := map[string]dbus.Variant{
		"xesam:title":  dbus.MakeVariant("Teardrop"),
		"xesam:artist": dbus.MakeVariant([]string{"Massive Attack", "Elizabeth Fraser"}),
		"xesam:album":  dbus.MakeVariant("Mezzanine"),
		"mpris:length": dbus.MakeVariant(int64(330_500_000)),
	}

	snap := snapshotFrom(md, "Playing", 12_250_000)

	assert.Equal(t, Snapshot{
		Title:       "Teardrop",
		Artist:      "Massive Attack, Elizabeth Fraser",
		Album:       "Mezzanine",
		Duration:    330.5,
		ElapsedTime: 12.25,
		IsPlaying:   true,
	}, snap)
}

func TestSnapshotFromSparseMetadata(t *testing.T) {
	md := map[string]dbus.Variant{
		"mpris:length": dbus.MakeVariant(uint64(1_000_000)),
	}

	snap := snapshotFrom(md, "Paused", 0)

	assert.Equal(t, Snapshot{Duration: 1}, snap)
}

func TestIsPlayerChange(t *testing.T) {
	ok := &dbus.Signal{
		Name: propertiesIface + ".PropertiesChanged",
		Body: []interface{}{mprisPlayerIface, map[string]dbus.Variant{}, []string{}},
	}
	other := &dbus.Signal{
		Name: propertiesIface + ".PropertiesChanged",
		Body: []interface{}{"org.mpris.MediaPlayer2", map[string]dbus.Variant{}, []string{}},
	}

	assert.True(t, isPlayerChange(ok))
	assert.False(t, isPlayerChange(other))
	assert.False(t, isPlayerChange(&dbus.Signal{Name: "x.y"}))
}
