package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
	"firestige.xyz/leakwatch/internal/metrics"
)

// Metadata is written into the section header and interface description
// blocks of a new file.
type Metadata struct {
	Comment  string
	Hardware string
	OS       string
	UserApp  string

	IfName        string
	IfDescription string
	IfIPv4        string // "a.b.c.d" or "a.b.c.d/nn"
	IfMAC         string
	IfSpeed       uint64 // bits per second
	IfTimezone    int32
	IfFilter      string
	TSOffset      int64
	TSResolution  uint8 // timestamps count units of 10^-TSResolution seconds
}

// File is one pcapng file being appended to. All writes, including the
// section length rewrite, happen under a single lock.
type File struct {
	mu sync.Mutex

	f             *os.File
	path          string
	resolution    uint8
	offset        int64 // next append position
	headerSize    int64
	sectionLength uint64
	closed        bool
	scratch       []byte
}

// Open creates (or truncates) path and writes the section header and
// interface description blocks.
func Open(path string, meta Metadata) (*File, error) {
	if meta.TSResolution > 9 {
		return nil, fmt.Errorf("%w: ts resolution %d", core.ErrCaptureWrite, meta.TSResolution)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCaptureWrite, err)
	}

	idb := interfaceDescriptionBlock(meta)
	shb := sectionHeaderBlock(meta, uint64(len(idb)))
	header := append(shb, idb...)
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrCaptureWrite, err)
	}

	return &File{
		f:             f,
		path:          path,
		resolution:    meta.TSResolution,
		offset:        int64(len(header)),
		headerSize:    int64(len(header)),
		sectionLength: uint64(len(idb)),
	}, nil
}

// Path returns the file's current path.
func (c *File) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// AppendPacket appends an enhanced packet block holding the first capLen
// bytes of data and updates the section length. Failures are logged and
// counted; the returned error is informational only.
func (c *File) AppendPacket(ts time.Time, capLen, origLen int, data []byte, comment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrCaptureClosed
	}
	if capLen < 0 || capLen > len(data) {
		return c.fail(fmt.Errorf("%w: captured length %d of %d bytes", core.ErrCaptureWrite, capLen, len(data)))
	}

	block := enhancedPacketBlock(c.scratch, c.timestamp(ts), data[:capLen], origLen, comment)
	c.scratch = block
	if _, err := c.f.WriteAt(block, c.offset); err != nil {
		return c.fail(fmt.Errorf("%w: %v", core.ErrCaptureWrite, err))
	}
	c.offset += int64(len(block))
	c.sectionLength += uint64(len(block))
	if err := c.writeSectionLength(); err != nil {
		return c.fail(err)
	}
	metrics.CapturePacketsTotal.Inc()
	return nil
}

// Append captures the whole packet.
func (c *File) Append(ts time.Time, packet []byte, comment string) error {
	return c.AppendPacket(ts, len(packet), len(packet), packet, comment)
}

// IsEmpty reports whether no packet has been appended.
func (c *File) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset <= c.headerSize
}

// SectionLength returns the section length currently recorded.
func (c *File) SectionLength() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sectionLength
}

// CloseAndRename finalizes the section length, closes the file and moves
// it to newPath.
func (c *File) CloseAndRename(newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.closeLocked(); err != nil {
		return err
	}
	if err := os.Rename(c.path, newPath); err != nil {
		return c.fail(fmt.Errorf("%w: rename %s: %v", core.ErrCaptureWrite, c.path, err))
	}
	c.path = newPath
	return nil
}

// Close finalizes and closes the file in place.
func (c *File) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *File) closeLocked() error {
	if c.closed {
		return core.ErrCaptureClosed
	}
	c.closed = true
	werr := c.writeSectionLength()
	cerr := c.f.Close()
	if werr != nil {
		return c.fail(werr)
	}
	if cerr != nil {
		return c.fail(fmt.Errorf("%w: %v", core.ErrCaptureWrite, cerr))
	}
	return nil
}

func (c *File) writeSectionLength() error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], c.sectionLength)
	if _, err := c.f.WriteAt(b[:], sectionLengthOffset); err != nil {
		return fmt.Errorf("%w: section length: %v", core.ErrCaptureWrite, err)
	}
	return nil
}

// timestamp converts ts to units of the interface resolution.
func (c *File) timestamp(ts time.Time) uint64 {
	div := int64(1)
	for i := c.resolution; i < 9; i++ {
		div *= 10
	}
	return uint64(ts.UnixNano() / div)
}

func (c *File) fail(err error) error {
	metrics.CaptureErrorsTotal.Inc()
	log.GetLogger().WithError(err).Errorf("capture %s", c.path)
	return err
}
