// internal/remote/entry_store.go
package remote

import (
	"github.com/dgraph-io/badger/v4"

	tuskerr "tusk/internal/errors"
	"tusk/internal/storage"
)

// entryStore persists staging entries keyed by branch then path.
type entryStore struct {
	store *storage.BadgerStore
}

func newEntryStore(db *badger.DB) *entryStore {
	return &entryStore{store: storage.NewBadgerStore(db, "remotestage")}
}

func (es *entryStore) put(e *Entry) error {
	return es.store.Put(e)
}

func (es *entryStore) get(branch, p string) (*Entry, error) {
	var e Entry
	if err := es.store.Get(branch+entrySep+p, &e); err != nil {
		if tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
			return nil, tuskerr.NotFound("staged file", p)
		}
		return nil, err
	}
	return &e, nil
}

func (es *entryStore) listBranch(branch string) ([]Entry, error) {
	var entries []Entry
	if err := es.store.ListPrefix(branch+entrySep, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (es *entryStore) clearBranch(branch string) error {
	return es.store.DeletePrefix(branch + entrySep)
}
