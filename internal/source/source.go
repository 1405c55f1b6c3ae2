// Package source replays pcap and pcapng captures as IP datagrams.
package source

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/leakwatch/internal/log"
)

const ngMagic = 0x0a0d0d0a

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Packet is one replayed frame. Datagram is nil when the frame holds no
// IPv4 datagram; Eligible reports whether it should be inspected.
type Packet struct {
	Index     int
	Timestamp time.Time
	Datagram  []byte
	Eligible  bool
}

// Stats counts what the source has read.
type Stats struct {
	Frames    int
	Datagrams int
	Eligible  int
	NonIP     int
}

// FileSource reads a capture file.
type FileSource struct {
	path     string
	f        *os.File
	r        packetReader
	filter   *Eligibility
	decode   gopacket.DecodeOptions
	stats    Stats
	isNg     bool
	linkType layers.LinkType
}

// Open opens a pcap or pcapng file. The format is detected from its
// magic number. filter may be nil to mark every datagram eligible.
func Open(path string, filter *Eligibility) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	s, err := newSource(f, filter)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read capture %s: %w", path, err)
	}
	s.path = path
	s.f = f
	log.GetLogger().WithFields(map[string]interface{}{
		"path":      path,
		"pcapng":    s.isNg,
		"link_type": s.linkType.String(),
	}).Info("replay source opened")
	return s, nil
}

func newSource(r io.Reader, filter *Eligibility) (*FileSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}

	s := &FileSource{
		filter: filter,
		decode: gopacket.DecodeOptions{Lazy: true, NoCopy: true},
	}
	if binary.BigEndian.Uint32(magic) == ngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		s.r, s.isNg = ng, true
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, err
		}
		s.r = pr
	}
	s.linkType = s.r.LinkType()
	return s, nil
}

// Next returns the next frame, or io.EOF at the end of the capture.
func (s *FileSource) Next() (Packet, error) {
	data, ci, err := s.r.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, io.EOF
		}
		return Packet{}, fmt.Errorf("read packet %d: %w", s.stats.Frames+1, err)
	}
	s.stats.Frames++

	p := Packet{Index: s.stats.Frames, Timestamp: ci.Timestamp}
	p.Datagram = s.datagram(data)
	if p.Datagram == nil {
		s.stats.NonIP++
		return p, nil
	}
	s.stats.Datagrams++
	if s.filter.Eligible(p.Datagram) {
		p.Eligible = true
		s.stats.Eligible++
	}
	return p, nil
}

// datagram strips link-layer framing and trailing padding from data and
// returns the IPv4 datagram it carries.
func (s *FileSource) datagram(data []byte) []byte {
	pkt := gopacket.NewPacket(data, s.linkType, s.decode)
	offset := 0
	for _, l := range pkt.Layers() {
		if l.LayerType() == layers.LayerTypeIPv4 {
			dg := data[offset:]
			if len(dg) >= 4 {
				if total := int(binary.BigEndian.Uint16(dg[2:4])); total >= 20 && total < len(dg) {
					dg = dg[:total]
				}
			}
			return dg
		}
		offset += len(l.LayerContents())
	}
	return nil
}

// Stats returns read counters.
func (s *FileSource) Stats() Stats {
	return s.stats
}

// LinkType returns the capture's link type.
func (s *FileSource) LinkType() layers.LinkType {
	return s.linkType
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
