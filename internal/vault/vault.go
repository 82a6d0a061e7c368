// Package vault encrypts the persisted session registry at rest. Extracted
// field values hold user-entered form data, so snapshots never reach disk in
// the clear when a key store path is configured.
package vault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const registryDescriptor = "formvox:registry"

// Vault seals and opens registry snapshot bytes with key material from a
// kryptograf key store. It satisfies the persist codec contract.
type Vault struct {
	storePath string
	log       pslog.Logger
}

// New initializes the vault and ensures the key store and root key exist.
func New(storePath string) (*Vault, error) {
	return NewWithLogger(storePath, nil)
}

// NewWithLogger initializes the vault with logging.
func NewWithLogger(storePath string, logger pslog.Logger) (*Vault, error) {
	if strings.TrimSpace(storePath) == "" {
		return nil, fmt.Errorf("vault key store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return nil, err
	}
	if err := ensureKeyStore(storePath, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("key_store", storePath)
	}
	return &Vault{storePath: storePath, log: logger}, nil
}

func ensureKeyStore(path string, logger pslog.Logger) error {
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		if logger != nil {
			logger.Warn("vault key store ensure failed", "err", err)
		}
		return err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		if logger != nil {
			logger.Warn("vault key store ensure failed", "err", err)
		}
		return err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("vault key store ensure failed", "err", err)
		}
		return err
	}
	return nil
}

// Seal encrypts snapshot bytes.
func (v *Vault) Seal(plain []byte) ([]byte, error) {
	material, root, err := v.material()
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	var sealed bytes.Buffer
	writer, err := kg.EncryptWriter(&sealed, material)
	if err != nil {
		return nil, v.failed("seal", err)
	}
	if _, err := writer.Write(plain); err != nil {
		_ = writer.Close()
		return nil, v.failed("seal", err)
	}
	if err := writer.Close(); err != nil {
		return nil, v.failed("seal", err)
	}
	return sealed.Bytes(), nil
}

// Open decrypts snapshot bytes.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	material, root, err := v.material()
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	reader, err := kg.DecryptReader(bytes.NewReader(sealed), material)
	if err != nil {
		return nil, v.failed("open", err)
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		return nil, v.failed("open", err)
	}
	return plain, nil
}

func (v *Vault) material() (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(v.storePath)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, v.failed("material load", err)
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, v.failed("material load", err)
	}
	material, err := store.EnsureDescriptor(registryDescriptor, root, []byte(registryDescriptor))
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, v.failed("material ensure", err)
	}
	if err := store.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, v.failed("material commit", err)
	}
	return material, root, nil
}

func (v *Vault) failed(op string, err error) error {
	if v.log != nil {
		v.log.Warn("vault "+op+" failed", "err", err)
	}
	return err
}
