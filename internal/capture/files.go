package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/leakwatch/internal/config"
	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
)

// Direction tags a capture file with the traffic it holds.
type Direction string

const (
	Incoming Direction = "inc"
	Outgoing Direction = "out"
)

const fileExt = ".pcapng"

// Manager names capture files in a directory. Files being written carry
// the active prefix; completed files carry the completed prefix and are
// ready for upload.
type Manager struct {
	dir             string
	activePrefix    string
	completedPrefix string
	meta            Metadata
	now             func() time.Time
}

// NewManager creates cfg.Dir if needed and prepares session metadata
// with a fresh session ID.
func NewManager(cfg config.CaptureConfig) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: capture dir: %v", core.ErrCaptureWrite, err)
	}
	return &Manager{
		dir:             cfg.Dir,
		activePrefix:    cfg.ActivePrefix,
		completedPrefix: cfg.CompletedPrefix,
		meta:            MetadataFromConfig(cfg, uuid.NewString()),
		now:             time.Now,
	}, nil
}

// MetadataFromConfig builds file metadata for one capture session.
func MetadataFromConfig(cfg config.CaptureConfig, sessionID string) Metadata {
	return Metadata{
		Comment:       SessionComment(cfg.InstallationID, sessionID),
		Hardware:      cfg.Hardware,
		OS:            cfg.OS,
		UserApp:       cfg.UserApp,
		IfName:        cfg.IfName,
		IfDescription: cfg.IfDescription,
		IfIPv4:        cfg.IfIPv4,
		IfMAC:         cfg.IfMAC,
		IfFilter:      cfg.IfFilter,
		TSResolution:  cfg.TSResolution,
	}
}

// SessionComment is the section header comment identifying a session.
func SessionComment(installationID, sessionID string) string {
	return "Installation ID = " + installationID + "\nSession ID = " + sessionID + "\n"
}

// Metadata returns the metadata new files are opened with.
func (m *Manager) Metadata() Metadata {
	return m.meta
}

// NewActiveFile opens <dir>/<active prefix><timestamp><direction>.pcapng.
func (m *Manager) NewActiveFile(direction Direction) (*File, error) {
	now := m.now()
	stamp := fmt.Sprintf("%s-%d", now.Format("2-1-2006_15-4-5"), now.Nanosecond()/int(time.Millisecond))
	path := filepath.Join(m.dir, m.activePrefix+stamp+string(direction)+fileExt)
	return Open(path, m.meta)
}

// Complete closes f and renames it from the active to the completed
// prefix. It returns the new path.
func (m *Manager) Complete(f *File) (string, error) {
	cur := f.Path()
	base := filepath.Base(cur)
	if !strings.HasPrefix(base, m.activePrefix) {
		return "", fmt.Errorf("%w: %s is not an active capture file", core.ErrCaptureWrite, cur)
	}
	next := filepath.Join(filepath.Dir(cur), m.completedPrefix+strings.TrimPrefix(base, m.activePrefix))
	if err := f.CloseAndRename(next); err != nil {
		return "", err
	}
	log.GetLogger().Debugf("capture %s completed", next)
	return next, nil
}

// ListCompleted returns completed files in the directory, sorted by name.
func (m *Manager) ListCompleted() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), m.completedPrefix) {
			continue
		}
		out = append(out, filepath.Join(m.dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
