// Package ble discovers the SVS subwoofer over Bluetooth Low Energy, keeps
// the one connected handle, and writes command frames to it.
package ble

import (
	"context"

	"github.com/google/uuid"
)

// SVS BLE identifiers
const (
	DeviceName      = "3KMC3144"
	ServiceUUID     = "1fee6acf-a826-4e37-9635-4d8a01642c5d"
	CommandCharUUID = "6409d79d-cd28-479c-a639-92f9e1948b43"
)

var (
	serviceID     = uuid.MustParse(ServiceUUID)
	commandCharID = uuid.MustParse(CommandCharUUID)
)

// Characteristic represents a resolved GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID as reported by the stack.
	UUID() string
	// Write sends data and blocks until the peripheral acknowledges it.
	Write(data []byte) error
}

// Service is one resolved GATT service with its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Peripheral is a device observed while scanning.
type Peripheral struct {
	Address string
	Name    string
	RSSI    int

	handle any // backend address, opaque to callers
}

// Connection represents an active link to a peripheral.
type Connection interface {
	// DiscoverServices resolves the full attribute table.
	DiscoverServices() ([]Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts one local radio adapter.
type Adapter interface {
	// ID names the adapter (e.g. "hci0").
	ID() string
	// Enable powers on the adapter.
	Enable() error
	// StartScan begins accumulating advertising peripherals.
	StartScan() error
	// Peripherals returns everything seen since StartScan, in first-seen order.
	Peripherals() ([]Peripheral, error)
	// StopScan ends the scan.
	StopScan() error
	// Connect establishes a connection to a scanned peripheral.
	Connect(ctx context.Context, p Peripheral) (Connection, error)
}

// Host enumerates the local radio adapters.
type Host interface {
	Adapters() ([]Adapter, error)
}

// sameUUID compares two UUID strings by value, ignoring case and format.
func sameUUID(s string, want uuid.UUID) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id == want
}
