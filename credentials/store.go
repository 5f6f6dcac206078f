package credentials

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Key names one entry of the persisted credential area.
type Key string

const (
	KeyToken         Key = "token"
	KeyTenantID      Key = "tenant_id"
	KeyLocalSession  Key = "local_session"
	KeyLocalIdentity Key = "local_identity"
)

// Keys lists every key Clear must remove.
var Keys = []Key{KeyToken, KeyTenantID, KeyLocalSession, KeyLocalIdentity}

// Store is the process-wide persistent key/value area holding the current
// session's credentials. Business logic only touches it through this
// interface.
type Store interface {
	Get(key Key) (string, bool, error)
	Set(key Key, value string) error
	Delete(key Key) error
	// Clear removes every key in Keys in a single operation.
	Clear() error
}

// LocalIdentity is the minimal identity snapshot kept for a local session.
type LocalIdentity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func TenantPointer(s Store) (int64, bool) {
	raw, ok, err := s.Get(KeyTenantID)
	if err != nil || !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func SetTenantPointer(s Store, tenantID int64) error {
	return s.Set(KeyTenantID, strconv.FormatInt(tenantID, 10))
}

func LocalSessionFlag(s Store) bool {
	raw, ok, err := s.Get(KeyLocalSession)
	if err != nil || !ok {
		return false
	}
	flag, err := strconv.ParseBool(raw)
	return err == nil && flag
}

func GetLocalIdentity(s Store) (*LocalIdentity, bool) {
	raw, ok, err := s.Get(KeyLocalIdentity)
	if err != nil || !ok {
		return nil, false
	}
	var li LocalIdentity
	if err := json.Unmarshal([]byte(raw), &li); err != nil || li.ID == "" {
		return nil, false
	}
	return &li, true
}

// SetLocalSession persists the local-session flag together with its
// identity snapshot.
func SetLocalSession(s Store, li LocalIdentity) error {
	b, err := json.Marshal(li)
	if err != nil {
		return errors.Wrap(err, "[credentials.SetLocalSession] marshal")
	}
	if err := s.Set(KeyLocalIdentity, string(b)); err != nil {
		return errors.Wrap(err, "[credentials.SetLocalSession] identity")
	}
	if err := s.Set(KeyLocalSession, "true"); err != nil {
		return errors.Wrap(err, "[credentials.SetLocalSession] flag")
	}
	return nil
}

// ClearLocalSession removes stale local-session state, leaving the token
// and tenant pointer alone.
func ClearLocalSession(s Store) error {
	if err := s.Delete(KeyLocalSession); err != nil {
		return err
	}
	return s.Delete(KeyLocalIdentity)
}
