package header

import (
	"fmt"

	"firestige.xyz/leakwatch/internal/core"
)

// TCP flag bits in the byte at offset 13.
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
	FlagURG = 0x20
)

const (
	tcpOffSeq      = 4
	tcpOffAck      = 8
	tcpOffDataOff  = 12
	tcpOffFlags    = 13
	tcpOffChecksum = 16
)

// SourcePort returns the first 2 bytes of a TCP or UDP header.
func SourcePort(b []byte, off int) (int, error) {
	return readU16(b, off)
}

// DestinationPort returns bytes 2-3 of a TCP or UDP header.
func DestinationPort(b []byte, off int) (int, error) {
	return readU16(b, off+2)
}

// SetSourcePort writes the source port of a TCP or UDP header.
func SetSourcePort(b []byte, off, port int) error {
	return writeU16(b, off, port)
}

// SetDestinationPort writes the destination port of a TCP or UDP header.
func SetDestinationPort(b []byte, off, port int) error {
	return writeU16(b, off+2, port)
}

// SequenceNumber returns the TCP sequence number (4 bytes at offset 4).
func SequenceNumber(b []byte, off int) (uint32, error) {
	return readU32(b, off+tcpOffSeq)
}

// AckNumber returns the TCP acknowledgment number (4 bytes at offset 8).
func AckNumber(b []byte, off int) (uint32, error) {
	return readU32(b, off+tcpOffAck)
}

// TCPHeaderLengthWords returns the data offset, top 4 bits of byte 12.
func TCPHeaderLengthWords(b []byte, off int) (int, error) {
	v, err := readU8(b, off+tcpOffDataOff)
	return v >> 4, err
}

// TCPHeaderLength returns the TCP header length in bytes.
func TCPHeaderLength(b []byte, off int) (int, error) {
	words, err := TCPHeaderLengthWords(b, off)
	if err != nil {
		return 0, err
	}
	n := WordsToBytes(words)
	if n < TCPMinHeaderLen {
		return 0, fmt.Errorf("%w: tcp header length %d", core.ErrMalformedPacket, n)
	}
	return n, nil
}

// TCPFlags returns the flags byte at offset 13.
func TCPFlags(b []byte, off int) (int, error) {
	return readU8(b, off+tcpOffFlags)
}

func hasFlag(b []byte, off, flag int) (bool, error) {
	f, err := TCPFlags(b, off)
	if err != nil {
		return false, err
	}
	return f&flag != 0, nil
}

func IsSYN(b []byte, off int) (bool, error) { return hasFlag(b, off, FlagSYN) }
func IsACK(b []byte, off int) (bool, error) { return hasFlag(b, off, FlagACK) }
func IsFIN(b []byte, off int) (bool, error) { return hasFlag(b, off, FlagFIN) }
func IsRST(b []byte, off int) (bool, error) { return hasFlag(b, off, FlagRST) }

// TCPChecksum returns the checksum field (2 bytes at offset 16).
func TCPChecksum(b []byte, off int) (int, error) {
	return readU16(b, off+tcpOffChecksum)
}

// TCPPayloadLength derives the segment payload length from the IPv4 header
// at ipOff: total length minus both header lengths.
func TCPPayloadLength(b []byte, ipOff int) (int, error) {
	total, err := TotalLength(b, ipOff)
	if err != nil {
		return 0, err
	}
	tOff, err := TransportOffset(b, ipOff)
	if err != nil {
		return 0, err
	}
	thl, err := TCPHeaderLength(b, tOff)
	if err != nil {
		return 0, err
	}
	n := total - (tOff - ipOff) - thl
	if n < 0 {
		return 0, fmt.Errorf("%w: total length %d shorter than headers", core.ErrMalformedPacket, total)
	}
	return n, nil
}

// HasData reports whether the TCP segment in the datagram at ipOff
// carries payload.
func HasData(b []byte, ipOff int) (bool, error) {
	n, err := TCPPayloadLength(b, ipOff)
	return n > 0, err
}

// SetSequenceNumber writes the TCP sequence number.
func SetSequenceNumber(b []byte, off int, seq uint32) error {
	return writeU32(b, off+tcpOffSeq, seq)
}

// SetAckNumber writes the TCP acknowledgment number.
func SetAckNumber(b []byte, off int, ack uint32) error {
	return writeU32(b, off+tcpOffAck, ack)
}

// SetTCPHeaderLengthWords writes the data offset, keeping the reserved bits.
func SetTCPHeaderLengthWords(b []byte, off, words int) error {
	if words < 0 || words > 0x0f {
		return fmt.Errorf("%w: data offset %d out of range", core.ErrMalformedPacket, words)
	}
	if err := need(b, off+tcpOffDataOff, 1); err != nil {
		return err
	}
	b[off+tcpOffDataOff] = byte(words<<4) | b[off+tcpOffDataOff]&0x0f
	return nil
}

// SetTCPFlags writes the flags byte.
func SetTCPFlags(b []byte, off, flags int) error {
	if flags < 0 || flags > 0xff {
		return fmt.Errorf("%w: flags %#x out of range", core.ErrMalformedPacket, flags)
	}
	if err := need(b, off+tcpOffFlags, 1); err != nil {
		return err
	}
	b[off+tcpOffFlags] = byte(flags)
	return nil
}

// SetTCPChecksum writes the checksum field verbatim.
func SetTCPChecksum(b []byte, off, sum int) error {
	return writeU16(b, off+tcpOffChecksum, sum)
}
