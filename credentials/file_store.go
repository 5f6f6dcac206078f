package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var _ Store = (*FileStore)(nil)

// FileStore keeps the credential area in a single JSON document on disk so
// it survives restarts. Every mutation rewrites the whole document through a
// temp file and rename. When a seal key is supplied the document is sealed
// with secretbox.
type FileStore struct {
	path    string
	sealKey *[32]byte
	values  map[Key]string
	lock    sync.RWMutex
}

// ParseSealKey decodes a hex encoded 32 byte key. An empty string yields a
// nil key (unsealed storage).
func ParseSealKey(hexKey string) (*[32]byte, error) {
	if hexKey == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "[credentials.ParseSealKey] decode")
	}
	if len(raw) != 32 {
		return nil, errors.Errorf("[credentials.ParseSealKey] key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func NewFileStore(path string, sealKey *[32]byte) (*FileStore, error) {
	fs := &FileStore{
		path:    path,
		sealKey: sealKey,
		values:  make(map[Key]string),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) Get(key Key) (string, bool, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	v, ok := fs.values[key]
	return v, ok, nil
}

func (fs *FileStore) Set(key Key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	prev, had := fs.values[key]
	fs.values[key] = value
	if err := fs.flush(); err != nil {
		if had {
			fs.values[key] = prev
		} else {
			delete(fs.values, key)
		}
		return err
	}
	return nil
}

func (fs *FileStore) Delete(key Key) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	prev, had := fs.values[key]
	if !had {
		return nil
	}
	delete(fs.values, key)
	if err := fs.flush(); err != nil {
		fs.values[key] = prev
		return err
	}
	return nil
}

func (fs *FileStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	prev := fs.values
	fs.values = make(map[Key]string)
	for k, v := range prev {
		if !isCredentialKey(k) {
			fs.values[k] = v
		}
	}
	if err := fs.flush(); err != nil {
		fs.values = prev
		return err
	}
	return nil
}

func isCredentialKey(k Key) bool {
	for _, ck := range Keys {
		if k == ck {
			return true
		}
	}
	return false
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "[FileStore.load] read")
	}
	if fs.sealKey != nil {
		if len(data) < nonceSize {
			return errors.New("[FileStore.load] sealed file too short")
		}
		var nonce [nonceSize]byte
		copy(nonce[:], data[:nonceSize])
		opened, ok := secretbox.Open(nil, data[nonceSize:], &nonce, fs.sealKey)
		if !ok {
			return errors.New("[FileStore.load] unable to open sealed file")
		}
		data = opened
	}
	if err := json.Unmarshal(data, &fs.values); err != nil {
		return errors.Wrap(err, "[FileStore.load] decode")
	}
	return nil
}

func (fs *FileStore) flush() error {
	data, err := json.Marshal(fs.values)
	if err != nil {
		return errors.Wrap(err, "[FileStore.flush] encode")
	}
	if fs.sealKey != nil {
		var nonce [nonceSize]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return errors.Wrap(err, "[FileStore.flush] nonce")
		}
		data = secretbox.Seal(nonce[:], data, &nonce, fs.sealKey)
	}

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return errors.Wrap(err, "[FileStore.flush] mkdir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".credentials-*")
	if err != nil {
		return errors.Wrap(err, "[FileStore.flush] temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[FileStore.flush] write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[FileStore.flush] close")
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return errors.Wrap(err, "[FileStore.flush] rename")
	}
	return nil
}
