package ble

import "errors"

// Discovery errors.
var (
	ErrNoAdapter      = errors.New("no bluetooth adapter found")
	ErrScanFailed     = errors.New("scan failed")
	ErrDeviceNotFound = errors.New("device not found")
	ErrConnectFailed  = errors.New("connect failed")
	ErrResolveFailed  = errors.New("resolve services failed")
)

// Command errors.
var (
	ErrNotConnected           = errors.New("not connected")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrWriteFailed            = errors.New("write failed")
)
