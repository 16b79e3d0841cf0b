// Package svs encodes SVS subwoofer command frames.
package svs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	preamble = 0xAA

	// frameOverhead is preamble + command + length + crc.
	frameOverhead = 7

	// Parameter block holding the adjustable controls.
	controlsID     = 4
	volumeOffset   = 0x2C
	phaseOffset    = 0x2E
	controlValueSz = 2
)

// Volume and phase bounds accepted by the sub.
const (
	MinVolume = -60.0
	MaxVolume = 0.0
	MinPhase  = 0.0
	MaxPhase  = 180.0
)

// ErrOutOfRange is returned for a control value the sub does not accept.
var ErrOutOfRange = errors.New("svs: value out of range")

var cmdMemWrite = [2]byte{0xF0, 0x1F}

// Frame builds a complete frame:
//
//	0xAA | cmd(2) | length(le16) | payload | crc16(le16)
//
// length counts the whole frame, crc covers everything before it.
func Frame(cmd [2]byte, payload []byte) []byte {
	n := len(payload) + frameOverhead
	buf := make([]byte, 0, n)
	buf = append(buf, preamble, cmd[0], cmd[1])
	buf = binary.LittleEndian.AppendUint16(buf, uint16(n))
	buf = append(buf, payload...)
	return binary.LittleEndian.AppendUint16(buf, CRC16(buf))
}

// MemWrite builds a MEMWRITE frame writing data at offset of parameter block id.
func MemWrite(id, offset byte, data []byte) []byte {
	payload := make([]byte, 0, 8+len(data))
	payload = append(payload, id, 0, 0, 0, offset, 0, byte(len(data)), 0)
	payload = append(payload, data...)
	return Frame(cmdMemWrite, payload)
}

// VolumeFrame sets the volume in dB, in 0.1 dB steps.
func VolumeFrame(db float64) ([]byte, error) {
	if math.IsNaN(db) || db < MinVolume || db > MaxVolume {
		return nil, fmt.Errorf("%w: volume %v not in [%v, %v]", ErrOutOfRange, db, MinVolume, MaxVolume)
	}
	return MemWrite(controlsID, volumeOffset, tenths(db)), nil
}

// PhaseFrame sets the phase in degrees, in 0.1 degree steps.
func PhaseFrame(deg float64) ([]byte, error) {
	if math.IsNaN(deg) || deg < MinPhase || deg > MaxPhase {
		return nil, fmt.Errorf("%w: phase %v not in [%v, %v]", ErrOutOfRange, deg, MinPhase, MaxPhase)
	}
	return MemWrite(controlsID, phaseOffset, tenths(deg)), nil
}

// tenths encodes v*10, floored, as a little-endian int16.
func tenths(v float64) []byte {
	out := make([]byte, controlValueSz)
	binary.LittleEndian.PutUint16(out, uint16(int16(math.Floor(v*10))))
	return out
}
