package nowplaying

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisPath        = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"
	propertiesIface  = "org.freedesktop.DBus.Properties"
)

// MPRISSource watches MPRIS media players on the D-Bus session bus.
type MPRISSource struct {
	logger *slog.Logger
}

// NewMPRISSource creates an MPRIS source. A nil logger uses slog.Default().
func NewMPRISSource(logger *slog.Logger) *MPRISSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MPRISSource{logger: logger}
}

// Start subscribes to player property changes and pushes a snapshot for the
// current player immediately, then one per change.
func (s *MPRISSource) Start(ctx context.Context, handler func(Snapshot)) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("nowplaying: connect session bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("nowplaying: add match: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	if player, err := firstPlayer(conn); err == nil {
		s.push(conn, player, handler)
	} else {
		s.logger.Debug("[NowPlaying] no player yet", "error", err)
	}

	go func() {
		defer conn.Close()
		defer conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if !isPlayerChange(sig) {
					continue
				}
				s.push(conn, sig.Sender, handler)
			}
		}
	}()
	return nil
}

func (s *MPRISSource) push(conn *dbus.Conn, dest string, handler func(Snapshot)) {
	snap, err := readPlayer(conn, dest)
	if err != nil {
		s.logger.Warn("[NowPlaying] read player failed", "player", dest, "error", err)
		return
	}
	handler(snap)
}

// isPlayerChange reports whether sig is a PropertiesChanged for the Player interface.
func isPlayerChange(sig *dbus.Signal) bool {
	if sig.Name != propertiesIface+".PropertiesChanged" || len(sig.Body) == 0 {
		return false
	}
	iface, _ := sig.Body[0].(string)
	return iface == mprisPlayerIface
}

// firstPlayer returns the bus name of the first MPRIS player.
func firstPlayer(conn *dbus.Conn) (string, error) {
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return "", err
	}
	for _, n := range names {
		if strings.HasPrefix(n, mprisPrefix) {
			return n, nil
		}
	}
	return "", fmt.Errorf("no %s* name on the bus", mprisPrefix)
}

func readPlayer(conn *dbus.Conn, dest string) (Snapshot, error) {
	obj := conn.Object(dest, mprisPath)

	md, err := obj.GetProperty(mprisPlayerIface + ".Metadata")
	if err != nil {
		return Snapshot{}, err
	}
	metadata, _ := md.Value().(map[string]dbus.Variant)

	var status string
	if v, err := obj.GetProperty(mprisPlayerIface + ".PlaybackStatus"); err == nil {
		status, _ = v.Value().(string)
	}
	var position int64
	if v, err := obj.GetProperty(mprisPlayerIface + ".Position"); err == nil {
		position, _ = toInt64(v.Value())
	}
	return snapshotFrom(metadata, status, position), nil
}

// snapshotFrom normalizes MPRIS metadata. Lengths and positions are in
// microseconds.
func snapshotFrom(metadata map[string]dbus.Variant, status string, positionUS int64) Snapshot {
	snap := Snapshot{IsPlaying: status == "Playing"}

	if v, ok := metadata["xesam:title"]; ok {
		snap.Title, _ = v.Value().(string)
	}
	if v, ok := metadata["xesam:album"]; ok {
		snap.Album, _ = v.Value().(string)
	}
	if v, ok := metadata["xesam:artist"]; ok {
		switch a := v.Value().(type) {
		case []string:
			snap.Artist = strings.Join(a, ", ")
		case string:
			snap.Artist = a
		}
	}
	if v, ok := metadata["mpris:length"]; ok {
		if us, ok := toInt64(v.Value()); ok {
			snap.Duration = float64(us) / 1e6
		}
	}
	if positionUS > 0 {
		snap.ElapsedTime = float64(positionUS) / 1e6
	}
	return snap
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
