package header

import (
	"fmt"
	"net/netip"

	"firestige.xyz/leakwatch/internal/core"
)

// IPv4 field offsets relative to the start of the IP header.
const (
	ipOffVersionIHL = 0
	ipOffTotalLen   = 2
	ipOffProtocol   = 9
	ipOffChecksum   = 10
	ipOffSrc        = 12
	ipOffDst        = 16
)

// IPVersion returns the top 4 bits of the first header byte.
func IPVersion(b []byte, off int) (int, error) {
	v, err := readU8(b, off+ipOffVersionIHL)
	return v >> 4, err
}

// IPHeaderLengthWords returns the IHL field, in 32-bit words.
func IPHeaderLengthWords(b []byte, off int) (int, error) {
	v, err := readU8(b, off+ipOffVersionIHL)
	return v & 0x0f, err
}

// IPHeaderLength returns the header length in bytes. A length below the
// 20 byte minimum or past the end of b is malformed.
func IPHeaderLength(b []byte, off int) (int, error) {
	words, err := IPHeaderLengthWords(b, off)
	if err != nil {
		return 0, err
	}
	n := WordsToBytes(words)
	if n < IPv4MinHeaderLen {
		return 0, fmt.Errorf("%w: ip header length %d", core.ErrMalformedPacket, n)
	}
	if err := need(b, off, n); err != nil {
		return 0, err
	}
	return n, nil
}

// Protocol returns the transport protocol number (1 byte at offset 9).
func Protocol(b []byte, off int) (int, error) {
	return readU8(b, off+ipOffProtocol)
}

// TotalLength returns the datagram total length (2 bytes at offset 2).
func TotalLength(b []byte, off int) (int, error) {
	return readU16(b, off+ipOffTotalLen)
}

// IPChecksum returns the header checksum field (2 bytes at offset 10).
func IPChecksum(b []byte, off int) (int, error) {
	return readU16(b, off+ipOffChecksum)
}

// SourceIP returns the source address (4 bytes at offset 12).
func SourceIP(b []byte, off int) ([4]byte, error) {
	return readAddr(b, off+ipOffSrc)
}

// DestinationIP returns the destination address (4 bytes at offset 16).
func DestinationIP(b []byte, off int) ([4]byte, error) {
	return readAddr(b, off+ipOffDst)
}

// SourceAddr is SourceIP as a netip.Addr; String() yields dotted decimal.
func SourceAddr(b []byte, off int) (netip.Addr, error) {
	a, err := SourceIP(b, off)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4(a), nil
}

// DestinationAddr is DestinationIP as a netip.Addr.
func DestinationAddr(b []byte, off int) (netip.Addr, error) {
	a, err := DestinationIP(b, off)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4(a), nil
}

func readAddr(b []byte, off int) ([4]byte, error) {
	var a [4]byte
	if err := need(b, off, 4); err != nil {
		return a, err
	}
	copy(a[:], b[off:off+4])
	return a, nil
}

// TransportOffset returns the offset of the transport header that follows
// the IPv4 header at off.
func TransportOffset(b []byte, off int) (int, error) {
	n, err := IPHeaderLength(b, off)
	if err != nil {
		return 0, err
	}
	return off + n, nil
}

// SetIPVersionAndHeaderLength writes the first header byte.
func SetIPVersionAndHeaderLength(b []byte, off, version, words int) error {
	if version < 0 || version > 0x0f || words < 0 || words > 0x0f {
		return fmt.Errorf("%w: version %d / ihl %d out of range", core.ErrMalformedPacket, version, words)
	}
	if err := need(b, off, 1); err != nil {
		return err
	}
	b[off] = byte(version<<4 | words)
	return nil
}

// SetProtocol writes the protocol byte.
func SetProtocol(b []byte, off, proto int) error {
	if proto < 0 || proto > 0xff {
		return fmt.Errorf("%w: protocol %d out of range", core.ErrMalformedPacket, proto)
	}
	if err := need(b, off+ipOffProtocol, 1); err != nil {
		return err
	}
	b[off+ipOffProtocol] = byte(proto)
	return nil
}

// SetTotalLength writes the datagram total length.
func SetTotalLength(b []byte, off, n int) error {
	return writeU16(b, off+ipOffTotalLen, n)
}

// SetIPChecksum writes the header checksum field verbatim.
func SetIPChecksum(b []byte, off, sum int) error {
	return writeU16(b, off+ipOffChecksum, sum)
}

// SetSourceIP writes the source address.
func SetSourceIP(b []byte, off int, a [4]byte) error {
	return writeAddr(b, off+ipOffSrc, a)
}

// SetDestinationIP writes the destination address.
func SetDestinationIP(b []byte, off int, a [4]byte) error {
	return writeAddr(b, off+ipOffDst, a)
}

func writeAddr(b []byte, off int, a [4]byte) error {
	if err := need(b, off, 4); err != nil {
		return err
	}
	copy(b[off:off+4], a[:])
	return nil
}
