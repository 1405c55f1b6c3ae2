// Package inspector runs packets through pattern scanning and leak
// evaluation and tells the caller whether to forward or drop them.
package inspector

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"firestige.xyz/leakwatch/internal/ahocorasick"
	"firestige.xyz/leakwatch/internal/attribution"
	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/core/header"
	"firestige.xyz/leakwatch/internal/leak"
	"firestige.xyz/leakwatch/internal/log"
	"firestige.xyz/leakwatch/internal/metrics"
	"firestige.xyz/leakwatch/internal/reassembly"
)

const defaultMaxPacketSize = 16384

// PatternSource supplies the filter values to search for.
type PatternSource interface {
	AllEnabledValues() []string
	LocationSearchEnabled() bool
}

// CandidateSource supplies coordinate strings to search for.
type CandidateSource interface {
	CurrentCandidates() (lats, lons []string)
}

// CaptureSink receives packets for persistence.
type CaptureSink interface {
	Append(ts time.Time, packet []byte, comment string) error
}

// Config wires an Inspector. Resolver, Location and Capture may be nil.
type Config struct {
	Enabled       bool
	MaxPacketSize int

	Handle    *ahocorasick.Handle
	Rebuilder *ahocorasick.Rebuilder
	Evaluator *leak.Evaluator
	Patterns  PatternSource
	Location  CandidateSource
	Resolver  attribution.Resolver
	Table     *reassembly.Table
	Capture   CaptureSink
}

// Conn identifies the connection a packet belongs to. App is resolved
// through the Resolver when empty and only if the packet has hits.
type Conn struct {
	Key core.ConnKey
	App core.AppIdentity
}

// Decision is the outcome for one packet.
type Decision struct {
	Verdict core.Verdict
	App     core.AppIdentity
	Leaks   []leak.Record
	Hashed  int
}

// Stats are cumulative inspector counters.
type Stats struct {
	Inspected atomic.Uint64
	Scanned   atomic.Uint64
	Forwarded atomic.Uint64
	Dropped   atomic.Uint64
	Malformed atomic.Uint64
	Skipped   atomic.Uint64 // not TCP/UDP over IPv4
}

// Inspector is shared by all workers. It holds no per-packet state.
type Inspector struct {
	enabled       bool
	maxPacketSize int

	handle    *ahocorasick.Handle
	rebuilder *ahocorasick.Rebuilder
	evaluator *leak.Evaluator
	patterns  PatternSource
	location  CandidateSource
	resolver  attribution.Resolver
	table     *reassembly.Table
	capture   CaptureSink

	stats Stats
}

// New creates an inspector from cfg.
func New(cfg Config) *Inspector {
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}
	if cfg.Handle == nil {
		cfg.Handle = ahocorasick.NewHandle()
	}
	if cfg.Rebuilder == nil {
		cfg.Rebuilder = ahocorasick.NewRebuilder(cfg.Handle)
	}
	if cfg.Table == nil {
		cfg.Table = reassembly.NewTable()
	}
	return &Inspector{
		enabled:       cfg.Enabled,
		maxPacketSize: cfg.MaxPacketSize,
		handle:        cfg.Handle,
		rebuilder:     cfg.Rebuilder,
		evaluator:     cfg.Evaluator,
		patterns:      cfg.Patterns,
		location:      cfg.Location,
		resolver:      cfg.Resolver,
		table:         cfg.Table,
		capture:       cfg.Capture,
	}
}

// Stats returns the inspector counters.
func (i *Inspector) Stats() *Stats { return &i.stats }

// Handle returns the automaton handle scans run against.
func (i *Inspector) Handle() *ahocorasick.Handle { return i.handle }

// Table returns the reassembly table.
func (i *Inspector) Table() *reassembly.Table { return i.table }

// ScanAndDecide scans packet and evaluates the hits. With scanning
// disabled the packet is forwarded untouched and the automaton is not
// consulted. Hash actions modify packet in place.
func (i *Inspector) ScanAndDecide(packet []byte, conn Conn) Decision {
	i.stats.Inspected.Add(1)
	if !i.enabled || !i.handle.Enabled() {
		return i.finish(Decision{Verdict: core.VerdictForward, App: conn.App})
	}

	start := time.Now()
	matches := i.handle.Scan(packet)
	metrics.ScanLatencySeconds.Observe(time.Since(start).Seconds())
	i.stats.Scanned.Add(1)
	if len(matches) == 0 {
		return i.finish(Decision{Verdict: core.VerdictForward, App: conn.App})
	}

	app := conn.App
	if app.Name == "" {
		app = i.resolve(conn.Key)
	}
	out := i.evaluator.Evaluate(packet, matches, leak.Context{App: app, RemoteIP: conn.Key.RemoteIP.String()})
	return i.finish(Decision{
		Verdict: out.Verdict,
		App:     app,
		Leaks:   out.Records,
		Hashed:  out.Hashed,
	})
}

func (i *Inspector) resolve(key core.ConnKey) core.AppIdentity {
	if i.resolver == nil {
		return core.UnknownApp
	}
	return i.resolver.Resolve(key)
}

func (i *Inspector) finish(d Decision) Decision {
	switch d.Verdict {
	case core.VerdictDrop:
		i.stats.Dropped.Add(1)
	default:
		i.stats.Forwarded.Add(1)
	}
	metrics.VerdictsTotal.WithLabelValues(d.Verdict.String()).Inc()
	return d
}

// InspectDatagram inspects the transport payload of a raw outbound IPv4
// datagram. Malformed packets return an error wrapping
// core.ErrMalformedPacket and should be dropped. Datagrams that are not
// TCP or UDP over IPv4 are forwarded without inspection. After a Hash the
// IPv4 and transport checksums are recomputed.
func (i *Inspector) InspectDatagram(packet []byte) (Decision, error) {
	metrics.PacketsInspectedTotal.WithLabelValues("datagram").Inc()

	key, payload, err := i.parse(packet)
	switch {
	case errors.Is(err, core.ErrUnknownProtocol):
		i.stats.Skipped.Add(1)
		metrics.PacketErrorsTotal.WithLabelValues("unknown_protocol").Inc()
		return i.finish(Decision{Verdict: core.VerdictForward}), nil
	case err != nil:
		i.stats.Malformed.Add(1)
		metrics.PacketErrorsTotal.WithLabelValues("malformed").Inc()
		log.GetLogger().WithError(err).Debug("drop malformed datagram")
		return Decision{Verdict: core.VerdictDrop}, err
	}

	d := i.ScanAndDecide(payload, Conn{Key: key})
	if d.Hashed > 0 {
		if err := header.Datagram(packet).UpdateChecksums(); err != nil {
			log.GetLogger().WithError(err).Debug("checksum update after redaction")
		}
	}
	return d, nil
}

// parse validates the datagram and returns its outbound connection key
// and a payload slice aliasing packet.
func (i *Inspector) parse(packet []byte) (core.ConnKey, []byte, error) {
	if len(packet) > i.maxPacketSize {
		return core.ConnKey{}, nil, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrMalformedPacket, len(packet), i.maxPacketSize)
	}
	dg := header.Datagram(packet)
	version, err := dg.Version()
	if err != nil {
		return core.ConnKey{}, nil, err
	}
	if version != header.IPv4Version {
		return core.ConnKey{}, nil, fmt.Errorf("%w: ip version %d", core.ErrUnknownProtocol, version)
	}
	hl, err := dg.HeaderLength()
	if err != nil {
		return core.ConnKey{}, nil, err
	}
	total, err := dg.TotalLength()
	if err != nil {
		return core.ConnKey{}, nil, err
	}
	if total < hl || total > len(packet) {
		return core.ConnKey{}, nil, fmt.Errorf("%w: total length %d for %d bytes", core.ErrMalformedPacket, total, len(packet))
	}
	proto, err := dg.Protocol()
	if err != nil {
		return core.ConnKey{}, nil, err
	}
	if proto != header.ProtocolTCP && proto != header.ProtocolUDP {
		return core.ConnKey{}, nil, fmt.Errorf("%w: protocol %d", core.ErrUnknownProtocol, proto)
	}

	payload, err := dg.Payload()
	if err != nil {
		return core.ConnKey{}, nil, err
	}
	src, dst, err := dg.Ports()
	if err != nil {
		return core.ConnKey{}, nil, err
	}
	remote, err := dg.Destination()
	if err != nil {
		return core.ConnKey{}, nil, err
	}
	return core.ConnKey{RemoteIP: remote, LocalPort: uint16(src), RemotePort: uint16(dst)}, payload, nil
}

// InspectDecrypted inspects TLS plaintext of the connection tracked by
// info.
func (i *Inspector) InspectDecrypted(plaintext []byte, info *reassembly.Info) Decision {
	metrics.PacketsInspectedTotal.WithLabelValues("decrypted").Inc()
	return i.ScanAndDecide(plaintext, Conn{Key: info.Key})
}

// OnSegment keeps reassembly bookkeeping for an outbound TCP segment: a
// SYN opens an entry, segments with data grow it, FIN or RST removes it.
func (i *Inspector) OnSegment(packet []byte) error {
	dg := header.Datagram(packet)
	proto, err := dg.Protocol()
	if err != nil {
		return err
	}
	if proto != header.ProtocolTCP {
		return fmt.Errorf("%w: protocol %d", core.ErrUnknownProtocol, proto)
	}
	off, err := dg.TransportOffset()
	if err != nil {
		return err
	}
	flags, err := dg.TCPFlags()
	if err != nil {
		return err
	}
	src, dst, err := dg.Ports()
	if err != nil {
		return err
	}
	remote, err := dg.Destination()
	if err != nil {
		return err
	}
	key := core.ConnKey{RemoteIP: remote, LocalPort: uint16(src), RemotePort: uint16(dst)}

	if flags&(header.FlagFIN|header.FlagRST) != 0 {
		i.table.Remove(key)
		return nil
	}

	seq, err := header.SequenceNumber(packet, off)
	if err != nil {
		return err
	}
	ack, err := header.AckNumber(packet, off)
	if err != nil {
		return err
	}
	if flags&header.FlagSYN != 0 {
		i.table.LookupOrCreate(key, ack, seq)
		return nil
	}

	n, err := dg.TCPPayloadLength()
	if err != nil || n == 0 {
		return err
	}
	info, _ := i.table.LookupOrCreate(key, ack, seq)
	info.RecordSegment(n)
	return nil
}

// RebuildPatterns hands patterns to the background rebuilder. Calls made
// while a build runs collapse into one follow-up build.
func (i *Inspector) RebuildPatterns(patterns []string) {
	i.rebuilder.Submit(patterns)
}

// Refresh collects the current search set and submits it for rebuild.
// It is meant to be subscribed to filter and location changes.
func (i *Inspector) Refresh() {
	i.RebuildPatterns(i.currentPatterns())
}

// RefreshNow builds and publishes the current search set synchronously.
func (i *Inspector) RefreshNow() error {
	return i.rebuilder.Apply(i.currentPatterns())
}

func (i *Inspector) currentPatterns() []string {
	if i.patterns == nil {
		return nil
	}
	set := i.patterns.AllEnabledValues()
	if i.location != nil && i.patterns.LocationSearchEnabled() {
		lats, lons := i.location.CurrentCandidates()
		set = append(set, lats...)
		set = append(set, lons...)
	}
	return set
}

// Capture hands packet to the capture sink. Failures are already logged
// by the sink and never reach the caller.
func (i *Inspector) Capture(packet []byte, comment string) {
	if i.capture == nil {
		return
	}
	_ = i.capture.Append(time.Now(), packet, comment)
}
