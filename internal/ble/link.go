package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LinkOptions configures the LinkManager.
type LinkOptions struct {
	ScanDuration time.Duration // scan window per discovery (default 4s)
	// ValidateOnConnect rejects a peripheral whose attribute table lacks the
	// command characteristic before it is stored. Off by default: a same-named
	// peripheral connects and only fails on its first SendCommand.
	ValidateOnConnect bool
	Logger            *slog.Logger
}

// DefaultLinkOptions returns the reference behavior.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{ScanDuration: DefaultScanDuration}
}

// Link is a connected peripheral whose attribute table has been resolved.
type Link struct {
	Peripheral Peripheral
	conn       Connection
	services   []Service
}

// characteristic finds the command characteristic inside the target service,
// falling back to any service that exposes it.
func (l *Link) characteristic() (Characteristic, bool) {
	var fallback Characteristic
	for _, svc := range l.services {
		for _, c := range svc.Characteristics {
			if !sameUUID(c.UUID(), commandCharID) {
				continue
			}
			if sameUUID(svc.UUID, serviceID) {
				return c, true
			}
			if fallback == nil {
				fallback = c
			}
		}
	}
	return fallback, fallback != nil
}

// Status is a snapshot of the connection slot.
type Status struct {
	Connected bool   `json:"connected"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
}

// LinkManager owns the single connection slot.
type LinkManager struct {
	session *Session
	opts    LinkOptions
	logger  *slog.Logger

	mu   sync.Mutex
	link *Link
}

// NewLinkManager creates a LinkManager that discovers through session.
func NewLinkManager(session *Session, opts LinkOptions) *LinkManager {
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = DefaultScanDuration
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkManager{session: session, opts: opts, logger: logger}
}

// DiscoverAndConnect scans on the first adapter for DeviceName, connects to
// the first exact match, resolves its services, and stores it in the slot,
// replacing any previous link. The slot is untouched on failure.
func (m *LinkManager) DiscoverAndConnect(ctx context.Context) error {
	adapters, err := m.session.ListAdapters()
	if err != nil {
		return err
	}
	adapter := adapters[0]

	peripherals, err := m.session.Scan(ctx, adapter, m.opts.ScanDuration)
	if err != nil {
		return err
	}

	for _, p := range peripherals {
		if p.Name != DeviceName {
			continue
		}
		link, err := m.open(ctx, adapter, p)
		if err != nil {
			return err
		}

		m.mu.Lock()
		m.link = link
		m.mu.Unlock()

		m.logger.Info("[BLE] connected", "name", p.Name, "address", p.Address)
		return nil
	}

	m.logger.Info("[BLE] device not found", "name", DeviceName, "scanned", len(peripherals))
	return ErrDeviceNotFound
}

// open connects to p and resolves its attribute table. A connection that
// fails to resolve or validate is dropped so the peripheral advertises again.
func (m *LinkManager) open(ctx context.Context, adapter Adapter, p Peripheral) (*Link, error) {
	conn, err := adapter.Connect(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, p.Address, err)
	}
	services, err := conn.DiscoverServices()
	if err != nil {
		m.drop(conn, p)
		return nil, fmt.Errorf("%w: %s: %w", ErrResolveFailed, p.Address, err)
	}

	link := &Link{Peripheral: p, conn: conn, services: services}
	if m.opts.ValidateOnConnect {
		if _, ok := link.characteristic(); !ok {
			m.drop(conn, p)
			return nil, fmt.Errorf("%w: %s on %s", ErrCharacteristicNotFound, CommandCharUUID, p.Address)
		}
	}
	return link, nil
}

// drop disconnects a connection that never made it into the slot.
func (m *LinkManager) drop(conn Connection, p Peripheral) {
	if err := conn.Disconnect(); err != nil {
		m.logger.Debug("[BLE] disconnect after failed open", "address", p.Address, "error", err)
	}
}

// SendCommand writes payload to the command characteristic of the stored
// link and waits for the acknowledgment. The slot lock is not held during
// the write, so a write racing a reconnect may land on the previous link.
func (m *LinkManager) SendCommand(_ context.Context, payload []byte) error {
	m.mu.Lock()
	link := m.link
	m.mu.Unlock()

	if link == nil {
		return ErrNotConnected
	}

	char, ok := link.characteristic()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCharacteristicNotFound, CommandCharUUID)
	}

	if err := char.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	m.logger.Debug("[BLE] command written", "bytes", len(payload))
	return nil
}

// Connected reports whether the slot holds a link.
func (m *LinkManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link != nil
}

// Status returns a snapshot of the slot.
func (m *LinkManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return Status{}
	}
	return Status{
		Connected: true,
		Name:      m.link.Peripheral.Name,
		Address:   m.link.Peripheral.Address,
	}
}

// Close disconnects the stored link and empties the slot.
func (m *LinkManager) Close() error {
	m.mu.Lock()
	link := m.link
	m.link = nil
	m.mu.Unlock()

	if link == nil {
		return nil
	}
	return link.conn.Disconnect()
}
