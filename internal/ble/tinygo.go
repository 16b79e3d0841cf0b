package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// scanStartGrace is how long StartScan waits for the stack to reject a scan.
const scanStartGrace = 50 * time.Millisecond

// radio is the part of *bluetooth.Adapter the adapter drives.
type radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

var _ radio = (*bluetooth.Adapter)(nil)

// tinyGoAdapter wraps a tinygo-org/bluetooth adapter.
// On macOS, peripheral addresses are CoreBluetooth UUIDs, not MAC addresses.
type tinyGoAdapter struct {
	id    string
	radio radio

	// mu protects the state below.
	mu          sync.Mutex
	enabled     bool
	peripherals []Peripheral
	index       map[string]int // address -> position in peripherals
	scanErr     error
	done        chan struct{}
}

func newTinyGoAdapter(id string, r radio) *tinyGoAdapter {
	return &tinyGoAdapter{id: id, radio: r}
}

func (a *tinyGoAdapter) ID() string { return a.id }

// Enable powers on the radio once. CoreBluetooth rejects a second Enable on
// the same adapter, so later calls are no-ops.
func (a *tinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.radio.Enable(); err != nil {
		return err
	}
	a.enabled = true
	return nil
}

// StartScan runs the blocking tinygo scan in the background and records
// results until StopScan.
func (a *tinyGoAdapter) StartScan() error {
	done := make(chan struct{})
	a.mu.Lock()
	a.peripherals = nil
	a.index = make(map[string]int)
	a.scanErr = nil
	a.done = done
	a.mu.Unlock()

	go func() {
		err := a.radio.Scan(a.onResult)
		a.mu.Lock()
		a.scanErr = err
		a.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.scanErr
	case <-time.After(scanStartGrace):
		return nil
	}
}

func (a *tinyGoAdapter) onResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	addr := result.Address.String()
	name := result.LocalName()

	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.index[addr]; ok {
		// Names often arrive in a later scan response.
		if a.peripherals[i].Name == "" {
			a.peripherals[i].Name = name
		}
		a.peripherals[i].RSSI = int(result.RSSI)
		return
	}
	a.index[addr] = len(a.peripherals)
	a.peripherals = append(a.peripherals, Peripheral{
		Address: addr,
		Name:    name,
		RSSI:    int(result.RSSI),
		handle:  result.Address,
	})
}

func (a *tinyGoAdapter) Peripherals() ([]Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanErr != nil {
		return nil, fmt.Errorf("ble: scan: %w", a.scanErr)
	}
	out := make([]Peripheral, len(a.peripherals))
	copy(out, a.peripherals)
	return out, nil
}

func (a *tinyGoAdapter) StopScan() error {
	err := a.radio.StopScan()

	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil && err == nil {
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	return err
}

func (a *tinyGoAdapter) Connect(ctx context.Context, p Peripheral) (Connection, error) {
	addr, ok := p.handle.(bluetooth.Address)
	if !ok {
		return nil, fmt.Errorf("ble: peripheral %s was not scanned by this adapter", p.Address)
	}

	device, err := dialCtx(ctx, func() (bluetooth.Device, error) {
		return a.radio.Connect(addr, bluetooth.ConnectionParams{})
	}, func(d bluetooth.Device) {
		_ = d.Disconnect()
	})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", p.Address, err)
	}
	return &tinyGoConnection{device: &device}, nil
}

// dialCtx runs dial in the background and returns its result, or ctx.Err()
// once ctx is done. A connection that completes after ctx is done goes to
// release.
func dialCtx[T any](ctx context.Context, dial func() (T, error), release func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	results := make(chan result, 1)
	go func() {
		v, err := dial()
		results <- result{v, err}
	}()

	select {
	case r := <-results:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-results; r.err == nil {
				release(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

// Compile-time check that tinyGoAdapter implements Adapter.
var _ Adapter = (*tinyGoAdapter)(nil)

type tinyGoConnection struct {
	device *bluetooth.Device
}

// DiscoverServices resolves every service and characteristic on the device.
func (c *tinyGoConnection) DiscoverServices() ([]Service, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}

	services := make([]Service, 0, len(svcs))
	for i := range svcs {
		chars, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", svcs[i].UUID().String(), err)
		}
		svc := Service{UUID: svcs[i].UUID().String()}
		for j := range chars {
			svc.Characteristics = append(svc.Characteristics, &tinyGoCharacteristic{char: chars[j]})
		}
		services = append(services, svc)
	}
	return services, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() string {
	return c.char.UUID().String()
}

var (
	_ Connection     = (*tinyGoConnection)(nil)
	_ Characteristic = (*tinyGoCharacteristic)(nil)
)
