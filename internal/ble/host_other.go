//go:build !linux

package ble

import (
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoHost exposes the platform's default adapter through
// tinygo-org/bluetooth. CoreBluetooth and WinRT have exactly one.
type TinyGoHost struct {
	once    sync.Once
	adapter *tinyGoAdapter
}

// NewTinyGoHost returns the platform host.
func NewTinyGoHost() *TinyGoHost {
	return &TinyGoHost{}
}

// Adapters returns the default adapter. The same value is returned on every
// call so its enabled state survives between discoveries.
func (h *TinyGoHost) Adapters() ([]Adapter, error) {
	h.once.Do(func() {
		h.adapter = newTinyGoAdapter("default", bluetooth.DefaultAdapter)
	})
	return []Adapter{h.adapter}, nil
}

var _ Host = (*TinyGoHost)(nil)
