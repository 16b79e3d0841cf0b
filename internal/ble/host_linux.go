//go:build linux

package ble

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

const (
	bluezBusName          = "org.bluez"
	bluezAdapterInterface = "org.bluez.Adapter1"
	objectManagerMethod   = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// TinyGoHost enumerates BlueZ adapters over D-Bus and drives them with
// tinygo-org/bluetooth.
type TinyGoHost struct {
	mu       sync.Mutex
	adapters map[string]*tinyGoAdapter // by BlueZ id, reused across calls
}

// NewTinyGoHost returns the platform host.
func NewTinyGoHost() *TinyGoHost {
	return &TinyGoHost{adapters: make(map[string]*tinyGoAdapter)}
}

// Adapters lists hciN adapters known to BlueZ, sorted by name.
func (h *TinyGoHost) Adapters() ([]Adapter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: connect system bus: %w", err)
	}

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	if err := conn.Object(bluezBusName, "/").Call(objectManagerMethod, 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("ble: list bluez objects: %w", err)
	}

	var ids []string
	for p, ifaces := range objects {
		if _, ok := ifaces[bluezAdapterInterface]; ok {
			ids = append(ids, path.Base(string(p)))
		}
	}
	sort.Strings(ids)

	h.mu.Lock()
	defer h.mu.Unlock()
	adapters := make([]Adapter, 0, len(ids))
	for _, id := range ids {
		a, ok := h.adapters[id]
		if !ok {
			a = newTinyGoAdapter(id, bluetooth.NewAdapter(id))
			h.adapters[id] = a
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

var _ Host = (*TinyGoHost)(nil)
