package boxserver

import (
	"context"
	"strconv"

	"github.com/vorteil/boxbackup/pkg/boxserver/recordstore"
	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// AccountStore adapts a recordstore.Store to
// boxhousekeeping.ObjectStore, scoping every key to one account so the
// same backend instance (a single bucket, or a single local root) can
// serve every account the server hosts. File and directory objects
// share one id space (spec §3), so one key scheme covers both.
type AccountStore struct {
	backend   recordstore.Store
	accountID uint32
}

// NewAccountStore returns a store scoped to accountID over backend.
func NewAccountStore(backend recordstore.Store, accountID uint32) *AccountStore {
	return &AccountStore{backend: backend, accountID: accountID}
}

func (s *AccountStore) objectKey(id boxstore.ObjectID) string {
	return "accounts/" + strconv.FormatUint(uint64(s.accountID), 10) + "/objects/" + strconv.FormatUint(uint64(id), 10)
}

// ObjectPrefix returns the key prefix every one of this account's
// objects falls under, for a full-account recordstore.List sweep.
// No request handler in this package calls it.
func (s *AccountStore) ObjectPrefix() string {
	return "accounts/" + strconv.FormatUint(uint64(s.accountID), 10) + "/objects/"
}

// GetObject implements boxhousekeeping.ObjectStore.
func (s *AccountStore) GetObject(id boxstore.ObjectID) ([]byte, error) {
	data, err := s.backend.Get(context.Background(), s.objectKey(id))
	if err != nil {
		if err == recordstore.ErrNotFound {
			return nil, boxstore.ErrCouldNotFindEntry
		}
		return nil, err
	}
	return data, nil
}

// PutObject implements boxhousekeeping.ObjectStore.
func (s *AccountStore) PutObject(id boxstore.ObjectID, data []byte) error {
	return s.backend.Put(context.Background(), s.objectKey(id), data)
}

// DeleteObject implements boxhousekeeping.ObjectStore.
func (s *AccountStore) DeleteObject(id boxstore.ObjectID) error {
	return s.backend.Delete(context.Background(), s.objectKey(id))
}
