package attribution

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
)

var procNetTables = []string{"tcp", "tcp6", "udp", "udp6"}

// ProcNet resolves connections through the kernel socket tables under
// <root>/net and names the owning uid via the user database.
type ProcNet struct {
	root       string
	lookupUser func(uid string) (string, error)
}

// NewProcNet reads tables from root, "/proc" when empty.
func NewProcNet(root string) *ProcNet {
	if root == "" {
		root = "/proc"
	}
	return &ProcNet{
		root: root,
		lookupUser: func(uid string) (string, error) {
			u, err := user.LookupId(uid)
			if err != nil {
				return "", err
			}
			return u.Username, nil
		},
	}
}

// socketEntry is one row of a /proc/net table.
type socketEntry struct {
	localPort  uint16
	remoteIP   netip.Addr
	remotePort uint16
	uid        string
}

func (p *ProcNet) Resolve(key core.ConnKey) core.AppIdentity {
	uid, ok := p.findUID(key)
	if !ok {
		return core.UnknownApp
	}
	name, err := p.lookupUser(uid)
	if err != nil || name == "" {
		return core.AppIdentity{Name: "uid:" + uid}
	}
	return core.AppIdentity{Name: name}
}

// findUID prefers a row matching the full key and falls back to one
// matching the local port only, e.g. an unconnected UDP socket.
func (p *ProcNet) findUID(key core.ConnKey) (string, bool) {
	var fallback string
	for _, table := range procNetTables {
		entries, err := readProcNet(filepath.Join(p.root, "net", table))
		if err != nil {
			log.GetLogger().WithError(err).Debugf("skip %s", table)
			continue
		}
		for _, e := range entries {
			if e.localPort != key.LocalPort {
				continue
			}
			if e.remotePort == key.RemotePort && e.remoteIP.Unmap() == key.RemoteIP.Unmap() {
				return e.uid, true
			}
			if fallback == "" && e.remotePort == 0 {
				fallback = e.uid
			}
		}
	}
	return fallback, fallback != ""
}

func readProcNet(path string) ([]socketEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []socketEntry
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		if first {
			first = false // column header
			continue
		}
		e, err := parseProcNetLine(sc.Text())
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// parseProcNetLine parses
//
//	sl local_address rem_address st tx_queue:rx_queue tr:tm->when retrnsmt uid ...
func parseProcNetLine(line string) (socketEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return socketEntry{}, fmt.Errorf("short line %q", line)
	}
	_, localPort, err := parseHexEndpoint(fields[1])
	if err != nil {
		return socketEntry{}, err
	}
	remoteIP, remotePort, err := parseHexEndpoint(fields[2])
	if err != nil {
		return socketEntry{}, err
	}
	return socketEntry{
		localPort:  localPort,
		remoteIP:   remoteIP,
		remotePort: remotePort,
		uid:        fields[7],
	}, nil
}

// parseHexEndpoint decodes "0100007F:1F90". The address is stored as
// host-order 32-bit words, i.e. each 4-byte group is little-endian.
func parseHexEndpoint(s string) (netip.Addr, uint16, error) {
	addrHex, portHex, ok := strings.Cut(s, ":")
	if !ok {
		return netip.Addr{}, 0, fmt.Errorf("bad endpoint %q", s)
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return netip.Addr{}, 0, err
	}
	raw, err := hex.DecodeString(addrHex)
	if err != nil || (len(raw) != 4 && len(raw) != 16) {
		return netip.Addr{}, 0, fmt.Errorf("bad address %q", addrHex)
	}
	for i := 0; i < len(raw); i += 4 {
		raw[i], raw[i+1], raw[i+2], raw[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	addr, _ := netip.AddrFromSlice(raw)
	return addr, uint16(port), nil
}
