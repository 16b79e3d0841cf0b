//go:build !linux

package ble

// Write uses write-with-response; it returns once the peripheral acknowledges.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
