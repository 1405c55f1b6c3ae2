package header

import (
	"fmt"
	"net/netip"

	"firestige.xyz/leakwatch/internal/core"
)

// Datagram views an IPv4 datagram that starts at index 0. Its methods are
// the raw-slice form of the offset accessors.
type Datagram []byte

func (d Datagram) Version() (int, error)            { return IPVersion(d, 0) }
func (d Datagram) HeaderLengthWords() (int, error)  { return IPHeaderLengthWords(d, 0) }
func (d Datagram) HeaderLength() (int, error)       { return IPHeaderLength(d, 0) }
func (d Datagram) Protocol() (int, error)           { return Protocol(d, 0) }
func (d Datagram) TotalLength() (int, error)        { return TotalLength(d, 0) }
func (d Datagram) Checksum() (int, error)           { return IPChecksum(d, 0) }
func (d Datagram) SourceIP() ([4]byte, error)       { return SourceIP(d, 0) }
func (d Datagram) DestinationIP() ([4]byte, error)  { return DestinationIP(d, 0) }
func (d Datagram) Source() (netip.Addr, error)      { return SourceAddr(d, 0) }
func (d Datagram) Destination() (netip.Addr, error) { return DestinationAddr(d, 0) }
func (d Datagram) TransportOffset() (int, error)    { return TransportOffset(d, 0) }
func (d Datagram) TCPPayloadLength() (int, error)   { return TCPPayloadLength(d, 0) }
func (d Datagram) HasData() (bool, error)           { return HasData(d, 0) }
func (d Datagram) UpdateChecksums() error           { return UpdateChecksums(d, 0) }

// atTransport applies a transport header accessor at the datagram's
// transport offset.
func atTransport[T any](d Datagram, f func([]byte, int) (T, error)) (T, error) {
	off, err := TransportOffset(d, 0)
	if err != nil {
		var zero T
		return zero, err
	}
	return f(d, off)
}

// Transport header fields. Callers check the protocol first.
func (d Datagram) SequenceNumber() (uint32, error)    { return atTransport(d, SequenceNumber) }
func (d Datagram) AckNumber() (uint32, error)         { return atTransport(d, AckNumber) }
func (d Datagram) TCPHeaderLengthWords() (int, error) { return atTransport(d, TCPHeaderLengthWords) }
func (d Datagram) TCPHeaderLength() (int, error)      { return atTransport(d, TCPHeaderLength) }
func (d Datagram) IsSYN() (bool, error)               { return atTransport(d, IsSYN) }
func (d Datagram) IsACK() (bool, error)               { return atTransport(d, IsACK) }
func (d Datagram) IsFIN() (bool, error)               { return atTransport(d, IsFIN) }
func (d Datagram) IsRST() (bool, error)               { return atTransport(d, IsRST) }
func (d Datagram) TCPFlags() (int, error)             { return atTransport(d, TCPFlags) }
func (d Datagram) UDPLength() (int, error)            { return atTransport(d, UDPLength) }
func (d Datagram) UDPPayloadLength() (int, error)     { return atTransport(d, UDPPayloadLength) }
func (d Datagram) TransactionID() (int, error)        { return atTransport(d, TransactionID) }

// Ports returns the transport source and destination ports.
func (d Datagram) Ports() (src, dst int, err error) {
	off, err := TransportOffset(d, 0)
	if err != nil {
		return 0, 0, err
	}
	if src, err = SourcePort(d, off); err != nil {
		return 0, 0, err
	}
	dst, err = DestinationPort(d, off)
	return src, dst, err
}

// Payload returns the transport payload slice. It aliases d.
func (d Datagram) Payload() ([]byte, error) {
	proto, err := d.Protocol()
	if err != nil {
		return nil, err
	}
	off, err := d.TransportOffset()
	if err != nil {
		return nil, err
	}
	switch proto {
	case ProtocolTCP:
		thl, err := TCPHeaderLength(d, off)
		if err != nil {
			return nil, err
		}
		n, err := d.TCPPayloadLength()
		if err != nil {
			return nil, err
		}
		if err := need(d, off+thl, n); err != nil {
			return nil, err
		}
		return d[off+thl : off+thl+n], nil
	case ProtocolUDP:
		n, err := UDPPayloadLength(d, off)
		if err != nil {
			return nil, err
		}
		if err := need(d, off+UDPHeaderLen, n); err != nil {
			return nil, err
		}
		return d[off+UDPHeaderLen : off+UDPHeaderLen+n], nil
	default:
		total, err := d.TotalLength()
		if err != nil {
			return nil, err
		}
		if total < off {
			return nil, fmt.Errorf("%w: total length %d below header length %d", core.ErrMalformedPacket, total, off)
		}
		if err := need(d, 0, total); err != nil {
			return nil, err
		}
		return d[off:total], nil
	}
}

// Cursor is a read position over a buffer holding one or more headers.
// Reading through Datagram never moves the cursor; only Seek and Advance do.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor at position 0 of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Pos returns the current position.
func (c *Cursor) Pos() int { return c.pos }

// Seek moves the cursor to an absolute position.
func (c *Cursor) Seek(pos int) error {
	if err := need(c.buf, pos, 0); err != nil {
		return err
	}
	c.pos = pos
	return nil
}

// Advance moves the cursor forward by n bytes.
func (c *Cursor) Advance(n int) error {
	return c.Seek(c.pos + n)
}

// Datagram returns a view of the IPv4 datagram starting at the cursor.
func (c *Cursor) Datagram() Datagram {
	return Datagram(c.buf[c.pos:])
}
