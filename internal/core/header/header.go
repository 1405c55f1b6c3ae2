// Package header reads and writes IPv4, TCP and UDP header fields in place.
//
// Every accessor takes the buffer and an explicit offset of the header it
// addresses and never retains the buffer. Multi-byte fields are big-endian;
// 16-bit fields are returned zero-extended as int. A buffer too short for
// the requested field yields core.ErrMalformedPacket instead of a panic.
package header

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/leakwatch/internal/core"
)

const (
	IPv4Version = 4

	ProtocolTCP = 6
	ProtocolUDP = 17

	IPv4MinHeaderLen = 20
	TCPMinHeaderLen  = 20
	UDPHeaderLen     = 8
)

// WordsToBytes converts a header length in 32-bit words to bytes.
func WordsToBytes(words int) int {
	return words * 4
}

func need(b []byte, off, n int) error {
	if off < 0 || off > len(b) || len(b)-off < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", core.ErrMalformedPacket, n, off, len(b))
	}
	return nil
}

func readU8(b []byte, off int) (int, error) {
	if err := need(b, off, 1); err != nil {
		return 0, err
	}
	return int(b[off]), nil
}

func readU16(b []byte, off int) (int, error) {
	if err := need(b, off, 2); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b[off:])), nil
}

func readU32(b []byte, off int) (uint32, error) {
	if err := need(b, off, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[off:]), nil
}

func writeU16(b []byte, off, v int) error {
	if v < 0 || v > 0xffff {
		return fmt.Errorf("%w: value %d does not fit 16 bits", core.ErrMalformedPacket, v)
	}
	if err := need(b, off, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b[off:], uint16(v))
	return nil
}

func writeU32(b []byte, off int, v uint32) error {
	if err := need(b, off, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[off:], v)
	return nil
}
