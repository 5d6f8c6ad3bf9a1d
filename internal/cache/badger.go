package cache

import (
	"bytes"
	"errors"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

var (
	entryPrefix = []byte("entry:")
	tagPrefix   = []byte("tag:")
)

// tagSeparator can't appear in tags, so one tag's marker prefix never matches another tag's markers.
const tagSeparator = 0x00

// BadgerCache is a Cache backed by a Badger key-value store. Tag membership is stored as marker keys that expire
// along with the entries they point to.
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens a BadgerCache stored in the given directory.
func NewBadgerCache(path string) (*BadgerCache, error) {
	return OpenBadgerCache(badger.DefaultOptions(filepath.Clean(path)).WithValueLogFileSize(1 << 24))
}

// NewInMemoryBadgerCache opens a BadgerCache that keeps everything in memory.
func NewInMemoryBadgerCache() (*BadgerCache, error) {
	return OpenBadgerCache(badger.DefaultOptions("").WithInMemory(true))
}

// OpenBadgerCache opens a BadgerCache with the given options.
func OpenBadgerCache(opts badger.Options) (*BadgerCache, error) {
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerCache{db: db}, nil
}

func entryKey(key string) []byte {
	return append(bytes.Clone(entryPrefix), key...)
}

func tagMarkerPrefix(tag string) []byte {
	p := append(bytes.Clone(tagPrefix), tag...)
	return append(p, tagSeparator)
}

func tagMarkerKey(tag, key string) []byte {
	return append(tagMarkerPrefix(tag), key...)
}

func (c *BadgerCache) Get(key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			log.WithField("context", "badger-get").Errorf("unable to read cache key %s: %s", key, err)
		}
		return nil, false
	}
	return value, true
}

func (c *BadgerCache) Put(key string, value []byte, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		return c.Invalidate(key)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(entryKey(key), value).WithTTL(ttl)); err != nil {
			return err
		}
		for _, tag := range tags {
			if err := txn.SetEntry(badger.NewEntry(tagMarkerKey(tag, key), nil).WithTTL(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BadgerCache) Invalidate(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(key))
	})
}

func (c *BadgerCache) InvalidateTag(tag string) error {
	prefix := tagMarkerPrefix(tag)
	return c.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		var markers [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			markers = append(markers, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, marker := range markers {
			if err := txn.Delete(entryKey(string(marker[len(prefix):]))); err != nil {
				return err
			}
			if err := txn.Delete(marker); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}
