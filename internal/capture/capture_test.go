package capture

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/leakwatch/internal/config"
	"firestige.xyz/leakwatch/internal/core"
)

func testMeta() Metadata {
	return Metadata{
		Comment:       SessionComment("install-1", "session-1"),
		Hardware:      "Pixel 7",
		OS:            "14",
		UserApp:       "leakwatch 1.0",
		IfName:        "WIFI",
		IfDescription: "\"home\"",
		IfIPv4:        "192.168.1.20/24",
		IfMAC:         "02:00:00:aa:bb:cc",
		IfSpeed:       72_000_000,
		IfFilter:      "DefaultPacketLogger",
		TSResolution:  3,
	}
}

func openReader(t *testing.T, path string) *pcapgo.NgReader {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	require.NoError(t, err)
	return r
}

func TestWrittenFileReadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pcapng")
	c, err := Open(path, testMeta())
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	ts := time.Date(2024, 5, 1, 12, 30, 15, 123_456_789, time.UTC)
	pkt1 := []byte{0x45, 0x00, 0x00, 0x05, 0xaa}
	pkt2 := []byte("0123456789abcdef")
	require.NoError(t, c.Append(ts, pkt1, "com.example"))
	require.NoError(t, c.AppendPacket(ts.Add(time.Second), 8, len(pkt2), pkt2, ""))
	assert.False(t, c.IsEmpty())
	require.NoError(t, c.Close())

	r := openReader(t, path)
	info := r.SectionInfo()
	assert.Equal(t, "Installation ID = install-1\nSession ID = session-1\n", info.Comment)
	assert.Equal(t, "Pixel 7", info.Hardware)
	assert.Equal(t, "14", info.OS)
	assert.Equal(t, "leakwatch 1.0", info.Application)

	iface, err := r.Interface(0)
	require.NoError(t, err)
	assert.Equal(t, "WIFI", iface.Name)
	assert.Equal(t, "\"home\"", iface.Description)
	assert.Equal(t, "DefaultPacketLogger", iface.Filter)
	assert.Equal(t, pcapgo.NgResolution(3), iface.TimestampResolution)
	assert.Equal(t, layers.LinkTypeRaw, r.LinkType())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, pkt1, data)
	assert.Equal(t, len(pkt1), ci.Length)
	assert.True(t, ts.Truncate(time.Millisecond).Equal(ci.Timestamp), "got %v", ci.Timestamp)

	data, ci, err = r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, pkt2[:8], data)
	assert.Equal(t, 8, ci.CaptureLength)
	assert.Equal(t, 16, ci.Length)

	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

// walkBlocks checks every block's framing and returns the SHB length.
func walkBlocks(t *testing.T, raw []byte) (shbLen int, blocks int) {
	t.Helper()
	off := 0
	for off < len(raw) {
		require.GreaterOrEqual(t, len(raw)-off, 12)
		n := int(binary.BigEndian.Uint32(raw[off+4:]))
		require.Zero(t, n%4, "block at %d has length %d", off, n)
		require.LessOrEqual(t, off+n, len(raw))
		assert.Equal(t, uint32(n), binary.BigEndian.Uint32(raw[off+n-4:]), "trailer of block at %d", off)
		if off == 0 {
			assert.Equal(t, blockSectionHeader, binary.BigEndian.Uint32(raw))
			assert.Equal(t, byteOrderMagic, binary.BigEndian.Uint32(raw[8:]))
			shbLen = n
		}
		off += n
		blocks++
	}
	return shbLen, blocks
}

func TestBlockFramingAndSectionLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.pcapng")
	c, err := Open(path, testMeta())
	require.NoError(t, err)

	for i := 1; i <= 7; i++ {
		require.NoError(t, c.Append(time.Now(), make([]byte, i), strings.Repeat("x", i)))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		shbLen, blocks := walkBlocks(t, raw)
		assert.Equal(t, i+2, blocks)
		section := binary.BigEndian.Uint64(raw[sectionLengthOffset:])
		assert.Equal(t, uint64(len(raw)-shbLen), section, "after %d packets", i)
		assert.Equal(t, section, c.SectionLength())
	}
	require.NoError(t, c.Close())
}

func TestInterfaceAddressOptions(t *testing.T) {
	assert.Equal(t, []byte{192, 168, 1, 20, 255, 255, 255, 0}, ipv4Option("192.168.1.20/24"))
	assert.Equal(t, []byte{10, 0, 0, 1, 255, 255, 255, 255}, ipv4Option("10.0.0.1"))
	assert.Nil(t, ipv4Option("::1"))
	assert.Nil(t, ipv4Option("not an ip"))
	assert.Nil(t, ipv4Option(""))

	idb := interfaceDescriptionBlock(testMeta())
	assert.Zero(t, len(idb)%4)
	assert.Contains(t, string(idb), string([]byte{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc}))
}

func TestOversizedOptionIsClipped(t *testing.T) {
	b := newBlock(blockEnhancedPacket, nil)
	b.option(optComment, make([]byte, maxOptionLen+100))
	raw := b.finish()

	assert.Equal(t, uint16(maxOptionLen), binary.BigEndian.Uint16(raw[10:12]))
	assert.Len(t, raw, 8+4+maxOptionLen+1+4)
	assert.Equal(t, uint32(len(raw)), binary.BigEndian.Uint32(raw[len(raw)-4:]))
}

func TestAppendErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.pcapng")
	c, err := Open(path, testMeta())
	require.NoError(t, err)

	err = c.AppendPacket(time.Now(), 10, 10, make([]byte, 4), "")
	assert.True(t, errors.Is(err, core.ErrCaptureWrite))
	assert.True(t, c.IsEmpty())

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Append(time.Now(), []byte{1}, ""), core.ErrCaptureClosed)
	assert.ErrorIs(t, c.Close(), core.ErrCaptureClosed)

	meta := testMeta()
	meta.TSResolution = 12
	_, err = Open(filepath.Join(t.TempDir(), "d.pcapng"), meta)
	assert.ErrorIs(t, err, core.ErrCaptureWrite)
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e.pcapng")
	c, err := Open(path, testMeta())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = c.Append(time.Now(), []byte{byte(w), byte(i), 0, 1, 2}, "app")
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, c.Close())

	r := openReader(t, path)
	n := 0
	for {
		_, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 400, n)
}

func TestManagerLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")
	m, err := NewManager(config.CaptureConfig{
		Dir:             dir,
		ActivePrefix:    "STREAM_",
		CompletedPrefix: "COMPLETED_",
		InstallationID:  "inst",
		IfFilter:        "DefaultPacketLogger",
		TSResolution:    3,
	})
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2024, 3, 7, 9, 5, 2, 45_000_000, time.Local) }
	assert.Contains(t, m.Metadata().Comment, "Installation ID = inst\nSession ID = ")

	f, err := m.NewActiveFile(Outgoing)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "STREAM_7-3-2024_9-5-2-45out.pcapng"), f.Path())
	require.NoError(t, f.Append(time.Now(), []byte{0x45}, ""))

	done, err := m.Complete(f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "COMPLETED_7-3-2024_9-5-2-45out.pcapng"), done)
	_, err = os.Stat(f.Path())
	require.NoError(t, err)

	list, err := m.ListCompleted()
	require.NoError(t, err)
	assert.Equal(t, []string{done}, list)

	_, err = m.Complete(f)
	assert.Error(t, err)

	r := openReader(t, done)
	_, _, err = r.ReadPacketData()
	assert.NoError(t, err)
}
