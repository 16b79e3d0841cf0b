//go:build linux

package ble

// Write issues a BlueZ WriteValue with no "type" option and blocks on the
// D-Bus reply. For a characteristic with the Write property BlueZ sends an
// ATT write request and replies only after the peripheral's write response,
// so this is the confirmed write despite the tinygo method name.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
