package storefakes

import (
	"errors"
	"sync"

	"github.com/jrsteele09/repairshop-session/credentials"
)

var _ credentials.Store = (*FakeStore)(nil)

// FakeStore is an in-memory credential store. FailSet makes every Set fail,
// which tests use to exercise best-effort persistence paths.
type FakeStore struct {
	values  map[credentials.Key]string
	writes  []credentials.Key
	FailSet bool
	lock    sync.RWMutex
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		values: make(map[credentials.Key]string),
	}
}

func (fs *FakeStore) Get(key credentials.Key) (string, bool, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	v, ok := fs.values[key]
	return v, ok, nil
}

func (fs *FakeStore) Set(key credentials.Key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.FailSet {
		return errors.New("store unavailable")
	}
	fs.values[key] = value
	fs.writes = append(fs.writes, key)
	return nil
}

func (fs *FakeStore) Delete(key credentials.Key) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	delete(fs.values, key)
	return nil
}

func (fs *FakeStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	for _, k := range credentials.Keys {
		delete(fs.values, k)
	}
	return nil
}

// Writes returns how many times key has been written.
func (fs *FakeStore) Writes(key credentials.Key) int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	n := 0
	for _, k := range fs.writes {
		if k == key {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the stored values.
func (fs *FakeStore) Snapshot() map[credentials.Key]string {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	out := make(map[credentials.Key]string, len(fs.values))
	for k, v := range fs.values {
		out[k] = v
	}
	return out
}
