package header

import (
	"fmt"

	"firestige.xyz/leakwatch/internal/core"
)

const (
	udpOffLength   = 4
	udpOffChecksum = 6
)

// UDPLength returns the length field (2 bytes at offset 4), header included.
func UDPLength(b []byte, off int) (int, error) {
	return readU16(b, off+udpOffLength)
}

// UDPPayloadLength returns the length field minus the fixed 8 byte header.
func UDPPayloadLength(b []byte, off int) (int, error) {
	n, err := UDPLength(b, off)
	if err != nil {
		return 0, err
	}
	if n < UDPHeaderLen {
		return 0, fmt.Errorf("%w: udp length %d", core.ErrMalformedPacket, n)
	}
	return n - UDPHeaderLen, nil
}

// UDPChecksum returns the checksum field (2 bytes at offset 6).
func UDPChecksum(b []byte, off int) (int, error) {
	return readU16(b, off+udpOffChecksum)
}

// TransactionID returns the first 2 payload bytes, the DNS message ID.
func TransactionID(b []byte, off int) (int, error) {
	return readU16(b, off+UDPHeaderLen)
}

// SetUDPLength writes the length field.
func SetUDPLength(b []byte, off, n int) error {
	return writeU16(b, off+udpOffLength, n)
}

// SetUDPChecksum writes the checksum field verbatim.
func SetUDPChecksum(b []byte, off, sum int) error {
	return writeU16(b, off+udpOffChecksum, sum)
}
