package snapshot

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/types"
)

// Manifest records what a fetch produced so a later load can verify it.
type Manifest struct {
	RunID     string          `yaml:"run_id"`
	CreatedAt time.Time       `yaml:"created_at"`
	Window    ManifestWindow  `yaml:"window"`
	Entities  []ManifestEntry `yaml:"entities"`
}

type ManifestWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type ManifestEntry struct {
	Entity    string `yaml:"entity"`
	Resource  string `yaml:"resource"`
	Table     string `yaml:"table"`
	File      string `yaml:"file"`
	Rows      int    `yaml:"rows"`
	Pages     int    `yaml:"pages"`
	Discarded int    `yaml:"discarded"`
	Truncated bool   `yaml:"truncated"`
	SHA256    string `yaml:"sha256"`
}

func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func NewManifest(runID string, window types.Window) *Manifest {
	return &Manifest{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Window: ManifestWindow{
			Start: window.Start.UTC().Format(types.FloatingTimestamp),
			End:   window.End.UTC().Format(types.FloatingTimestamp),
		},
	}
}

// Add records a written snapshot, computing its checksum. File is stored
// relative to the manifest directory when possible.
func (m *Manifest) Add(entity types.Entity, path string, counts types.EntityCounts, manifestDir string) error {
	sum, err := Checksum(path)
	if err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, fmt.Sprintf("checksum %s", path))
	}
	file := path
	if rel, err := filepath.Rel(manifestDir, path); err == nil {
		file = rel
	}
	m.Entities = append(m.Entities, ManifestEntry{
		Entity:    entity.Name,
		Resource:  entity.ResourceID,
		Table:     entity.Table,
		File:      file,
		Rows:      counts.Rows,
		Pages:     counts.Pages,
		Discarded: counts.Discarded,
		Truncated: counts.Truncated,
		SHA256:    sum,
	})
	return nil
}

func (m *Manifest) Entry(entity string) (ManifestEntry, bool) {
	for _, e := range m.Entities {
		if e.Entity == entity {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

func (m *Manifest) GetWindow() (types.Window, error) {
	return types.ParseWindow(m.Window.Start, m.Window.End)
}

func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, "failed to marshal manifest")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, "failed to create manifest directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, "failed to write manifest")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WrapError(err, errors.ErrSnapshot, "failed to move manifest into place")
	}
	return nil
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrSnapshot, fmt.Sprintf("failed to read manifest %s", path))
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapError(err, errors.ErrSnapshot, "failed to parse manifest")
	}
	return &m, nil
}

// Path resolves an entry's file against the manifest directory.
func (e ManifestEntry) Path(manifestDir string) string {
	if filepath.IsAbs(e.File) {
		return e.File
	}
	return filepath.Join(manifestDir, e.File)
}

// VerifyChecksum fails when the snapshot changed since the manifest was written.
func (e ManifestEntry) VerifyChecksum(manifestDir string) error {
	sum, err := Checksum(e.Path(manifestDir))
	if err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, fmt.Sprintf("checksum %s", e.File))
	}
	if sum != e.SHA256 {
		return errors.WrapError(nil, errors.ErrSnapshot,
			fmt.Sprintf("snapshot %s of %s changed (sha256 %s, want %s)", e.File, e.Entity, sum, e.SHA256))
	}
	return nil
}
