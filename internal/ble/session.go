package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultScanDuration is how long a scan window stays open.
const DefaultScanDuration = 4 * time.Second

// Session bridges to the local radio stack for enumeration and scanning.
type Session struct {
	host   Host
	logger *slog.Logger
}

// NewSession creates a Session over host. A nil logger uses slog.Default().
func NewSession(host Host, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{host: host, logger: logger}
}

// ListAdapters returns the host's adapters, or ErrNoAdapter if there are none.
func (s *Session) ListAdapters() ([]Adapter, error) {
	adapters, err := s.host.Adapters()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}
	if len(adapters) == 0 {
		return nil, ErrNoAdapter
	}
	return adapters, nil
}

// Scan keeps the adapter scanning for d, then returns what it accumulated.
// The window is fixed: a peripheral that starts advertising after it closes
// is missed. Failing to stop the scan is logged and otherwise ignored.
func (s *Session) Scan(ctx context.Context, adapter Adapter, d time.Duration) ([]Peripheral, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: enable adapter %s: %w", ErrScanFailed, adapter.ID(), err)
	}
	if err := adapter.StartScan(); err != nil {
		return nil, fmt.Errorf("%w: start scan: %w", ErrScanFailed, err)
	}
	defer func() {
		if err := adapter.StopScan(); err != nil {
			s.logger.Debug("[BLE] stop scan failed", "adapter", adapter.ID(), "error", err)
		}
	}()

	s.logger.Debug("[BLE] scanning", "adapter", adapter.ID(), "duration", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, ctx.Err())
	}

	peripherals, err := adapter.Peripherals()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	return peripherals, nil
}
