package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/formvox/schema"
)

// RegistrySnapshot captures the session registry for persistence. Tab ids are
// serialized as string keys so the snapshot survives JSON object-key rules.
type RegistrySnapshot struct {
	Version  int                       `json:"version"`
	Sessions map[string]schema.Session `json:"sessions"`
}

// SnapshotVersion is the current snapshot layout version.
const SnapshotVersion = 1

// Codec optionally transforms snapshot bytes on the way to and from disk.
// The vault package implements it for at-rest encryption.
type Codec interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Store persists the session registry to a single file in the state
// directory. Writes are atomic: temp file, sync, rename.
type Store struct {
	dir   string
	codec Codec
	log   pslog.Logger
}

// NewStore constructs a store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithOptions(dir, nil, nil)
}

// NewStoreWithOptions constructs a store with an optional codec and logger.
func NewStoreWithOptions(dir string, codec Codec, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, codec: codec, log: logger}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, "registry.json")
}

// Load reads the registry snapshot from disk. A missing file is not an error;
// it reports ok=false so the caller starts with an empty registry.
func (s *Store) Load() (RegistrySnapshot, bool, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("registry load miss")
			}
			return RegistrySnapshot{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("registry load failed", "err", err)
		}
		return RegistrySnapshot{}, false, err
	}
	if s.codec != nil {
		data, err = s.codec.Open(data)
		if err != nil {
			if s.log != nil {
				s.log.Warn("registry open failed", "err", err)
			}
			return RegistrySnapshot{}, false, err
		}
	}
	var snapshot RegistrySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		if s.log != nil {
			s.log.Warn("registry load failed", "err", err)
		}
		return RegistrySnapshot{}, false, err
	}
	if s.log != nil {
		s.log.Debug("registry load ok", "sessions", len(snapshot.Sessions))
	}
	return snapshot, true, nil
}

// Save writes the registry snapshot to disk.
func (s *Store) Save(snapshot RegistrySnapshot) error {
	if snapshot.Version == 0 {
		snapshot.Version = SnapshotVersion
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return s.saveFailed(err)
	}
	if s.codec != nil {
		data, err = s.codec.Seal(data)
		if err != nil {
			return s.saveFailed(err)
		}
	}
	tmp, err := os.CreateTemp(s.dir, "registry-*.json")
	if err != nil {
		return s.saveFailed(err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := os.Rename(tmp.Name(), s.path()); err != nil {
		return s.saveFailed(err)
	}
	if s.log != nil {
		s.log.Trace("registry save ok", "sessions", len(snapshot.Sessions))
	}
	return nil
}

func (s *Store) saveFailed(err error) error {
	if s.log != nil {
		s.log.Warn("registry save failed", "err", err)
	}
	return err
}

// SessionsByTab converts the string-keyed snapshot map back to typed tab ids.
// Entries with unparsable keys are dropped rather than failing the whole load.
func (snap RegistrySnapshot) SessionsByTab() map[schema.TabID]schema.Session {
	out := make(map[schema.TabID]schema.Session, len(snap.Sessions))
	for key, sess := range snap.Sessions {
		tab, err := schema.ParseTabID(key)
		if err != nil {
			continue
		}
		out[tab] = sess
	}
	return out
}

// SnapshotSessions builds a snapshot from a typed registry map.
func SnapshotSessions(sessions map[schema.TabID]schema.Session) RegistrySnapshot {
	snap := RegistrySnapshot{
		Version:  SnapshotVersion,
		Sessions: make(map[string]schema.Session, len(sessions)),
	}
	for tab, sess := range sessions {
		snap.Sessions[tab.String()] = sess
	}
	return snap
}
