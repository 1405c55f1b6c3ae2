// Package capture writes packets to pcapng files.
package capture

import (
	"encoding/binary"
	"net"
	"net/netip"
)

// Block and option constants of the pcapng container. Everything is
// written big-endian.
const (
	blockSectionHeader        uint32 = 0x0A0D0D0A
	blockInterfaceDescription uint32 = 0x00000001
	blockEnhancedPacket       uint32 = 0x00000006
	byteOrderMagic            uint32 = 0x1A2B3C4D

	versionMajor uint16 = 1
	versionMinor uint16 = 0

	// LinkTypeRaw marks packets that start at the IP header.
	LinkTypeRaw uint16 = 101

	sectionLengthOffset = 16

	maxOptionLen = 0xffff

	optEndOfOpt  uint16 = 0
	optComment   uint16 = 1
	optHardware  uint16 = 2
	optOS        uint16 = 3
	optUserAppl  uint16 = 4
	optIfName    uint16 = 2
	optIfDesc    uint16 = 3
	optIfIPv4    uint16 = 4
	optIfMAC     uint16 = 6
	optIfSpeed   uint16 = 8
	optIfTSResol uint16 = 9
	optIfTZone   uint16 = 10
	optIfFilter  uint16 = 11
	optIfTSOff   uint16 = 14
)

// pad4 returns the padding needed to align n to 4 bytes.
func pad4(n int) int {
	return (4 - n%4) % 4
}

// blockBuilder assembles one block: type, total length, body, options,
// trailing total length.
type blockBuilder struct {
	buf []byte
}

func newBlock(typ uint32, scratch []byte) *blockBuilder {
	b := &blockBuilder{buf: scratch[:0]}
	b.u32(typ)
	b.u32(0) // total length, patched by finish
	return b
}

func (b *blockBuilder) u16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }
func (b *blockBuilder) u32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }
func (b *blockBuilder) u64(v uint64) { b.buf = binary.BigEndian.AppendUint64(b.buf, v) }

func (b *blockBuilder) bytes(p []byte) {
	b.buf = append(b.buf, p...)
	b.buf = append(b.buf, make([]byte, pad4(len(p)))...)
}

// option appends one option. Values longer than the 16-bit length field
// are clipped.
func (b *blockBuilder) option(code uint16, value []byte) {
	if len(value) > maxOptionLen {
		value = value[:maxOptionLen]
	}
	b.u16(code)
	b.u16(uint16(len(value)))
	b.bytes(value)
}

func (b *blockBuilder) stringOption(code uint16, s string) {
	if s == "" {
		return
	}
	b.option(code, []byte(s))
}

func (b *blockBuilder) endOptions() {
	b.u16(optEndOfOpt)
	b.u16(0)
}

func (b *blockBuilder) finish() []byte {
	total := uint32(len(b.buf) + 4)
	b.u32(total)
	binary.BigEndian.PutUint32(b.buf[4:8], total)
	return b.buf
}

func sectionHeaderBlock(meta Metadata, sectionLength uint64) []byte {
	b := newBlock(blockSectionHeader, nil)
	b.u32(byteOrderMagic)
	b.u16(versionMajor)
	b.u16(versionMinor)
	b.u64(sectionLength)
	b.stringOption(optComment, meta.Comment)
	b.stringOption(optHardware, meta.Hardware)
	b.stringOption(optOS, meta.OS)
	b.stringOption(optUserAppl, meta.UserApp)
	b.endOptions()
	return b.finish()
}

func interfaceDescriptionBlock(meta Metadata) []byte {
	b := newBlock(blockInterfaceDescription, nil)
	b.u16(LinkTypeRaw)
	b.u16(0) // reserved
	b.u32(0) // snap length: unlimited
	b.stringOption(optIfName, meta.IfName)
	b.stringOption(optIfDesc, meta.IfDescription)
	if v := ipv4Option(meta.IfIPv4); v != nil {
		b.option(optIfIPv4, v)
	}
	if mac, err := net.ParseMAC(meta.IfMAC); err == nil && len(mac) == 6 {
		b.option(optIfMAC, mac)
	}
	b.option(optIfSpeed, binary.BigEndian.AppendUint64(nil, meta.IfSpeed))
	b.option(optIfTSResol, []byte{meta.TSResolution})
	b.option(optIfTZone, binary.BigEndian.AppendUint32(nil, uint32(meta.IfTimezone)))
	b.option(optIfFilter, append([]byte{0}, meta.IfFilter...))
	b.option(optIfTSOff, binary.BigEndian.AppendUint64(nil, uint64(meta.TSOffset)))
	b.endOptions()
	return b.finish()
}

func enhancedPacketBlock(scratch []byte, ts uint64, data []byte, origLen int, comment string) []byte {
	b := newBlock(blockEnhancedPacket, scratch)
	b.u32(0) // interface id
	b.u32(uint32(ts >> 32))
	b.u32(uint32(ts))
	b.u32(uint32(len(data)))
	b.u32(uint32(origLen))
	b.bytes(data)
	b.stringOption(optComment, comment)
	b.endOptions()
	return b.finish()
}

// ipv4Option encodes "a.b.c.d" or "a.b.c.d/nn" as address then netmask.
func ipv4Option(s string) []byte {
	if s == "" {
		return nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		addr, aerr := netip.ParseAddr(s)
		if aerr != nil || !addr.Is4() {
			return nil
		}
		prefix = netip.PrefixFrom(addr, 32)
	}
	if !prefix.Addr().Is4() {
		return nil
	}
	addr := prefix.Addr().As4()
	mask := net.CIDRMask(prefix.Bits(), 32)
	return append(addr[:], mask...)
}
