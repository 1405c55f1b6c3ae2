package header

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/leakwatch/internal/core"
)

// sum folds 16-bit big-endian words of data into acc without the final
// complement. An odd trailing byte is padded with zero.
func sum(data []byte, acc uint32) uint32 {
	n := len(data) &^ 1
	for i := 0; i < n; i += 2 {
		acc += uint32(binary.BigEndian.Uint16(data[i:]))
	}
	if len(data)&1 == 1 {
		acc += uint32(data[len(data)-1]) << 8
	}
	return acc
}

func fold(acc uint32) uint16 {
	for acc>>16 != 0 {
		acc = acc&0xffff + acc>>16
	}
	return ^uint16(acc)
}

// Checksum returns the Internet checksum (RFC 1071) of data.
func Checksum(data []byte) uint16 {
	return fold(sum(data, 0))
}

// ComputeIPChecksum returns the header checksum of the IPv4 header at off
// as if its checksum field were zero.
func ComputeIPChecksum(b []byte, off int) (uint16, error) {
	n, err := IPHeaderLength(b, off)
	if err != nil {
		return 0, err
	}
	acc := sum(b[off:off+ipOffChecksum], 0)
	acc = sum(b[off+ipOffChecksum+2:off+n], acc)
	return fold(acc), nil
}

// ComputeTransportChecksum returns the TCP or UDP checksum of the datagram
// at ipOff, including the IPv4 pseudo-header, as if the checksum field
// were zero. A computed UDP checksum of zero is returned as 0xffff.
func ComputeTransportChecksum(b []byte, ipOff int) (uint16, error) {
	proto, err := Protocol(b, ipOff)
	if err != nil {
		return 0, err
	}
	var csOff int
	switch proto {
	case ProtocolTCP:
		csOff = tcpOffChecksum
	case ProtocolUDP:
		csOff = udpOffChecksum
	default:
		return 0, fmt.Errorf("%w: protocol %d", core.ErrUnknownProtocol, proto)
	}
	total, err := TotalLength(b, ipOff)
	if err != nil {
		return 0, err
	}
	tOff, err := TransportOffset(b, ipOff)
	if err != nil {
		return 0, err
	}
	segLen := total - (tOff - ipOff)
	if segLen < csOff+2 {
		return 0, fmt.Errorf("%w: transport segment of %d bytes", core.ErrMalformedPacket, segLen)
	}
	if err := need(b, tOff, segLen); err != nil {
		return 0, err
	}

	var pseudo [12]byte
	copy(pseudo[0:8], b[ipOff+ipOffSrc:ipOff+ipOffDst+4])
	pseudo[9] = byte(proto)
	binary.BigEndian.PutUint16(pseudo[10:], uint16(segLen))

	acc := sum(pseudo[:], 0)
	acc = sum(b[tOff:tOff+csOff], acc)
	acc = sum(b[tOff+csOff+2:tOff+segLen], acc)
	cs := fold(acc)
	if cs == 0 && proto == ProtocolUDP {
		cs = 0xffff
	}
	return cs, nil
}

// UpdateChecksums recomputes and stores both the IPv4 header checksum and
// the transport checksum of the datagram at ipOff.
func UpdateChecksums(b []byte, ipOff int) error {
	ipSum, err := ComputeIPChecksum(b, ipOff)
	if err != nil {
		return err
	}
	if err := SetIPChecksum(b, ipOff, int(ipSum)); err != nil {
		return err
	}
	l4Sum, err := ComputeTransportChecksum(b, ipOff)
	if err != nil {
		return err
	}
	tOff, _ := TransportOffset(b, ipOff)
	proto, _ := Protocol(b, ipOff)
	if proto == ProtocolTCP {
		return SetTCPChecksum(b, tOff, int(l4Sum))
	}
	return SetUDPChecksum(b, tOff, int(l4Sum))
}
