package catalog

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/logship/pkg/apperror"
)

var bucketStreams = []byte("streams")

// cache is the bbolt-backed local mirror of the catalog. It exists so
// that a restart does not need to wait on an object-store listing
// before streams become queryable; Catalog.Rebuild reads from here
// first and the caller reconciles against object storage afterward.
type cache struct {
	db *bolt.DB
}

func openCache(dbPath string) (*cache, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "open catalog cache", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStreams)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperror.Wrap(apperror.KindFatal, "create catalog bucket", err)
	}

	return &cache{db: db}, nil
}

func (c *cache) close() error {
	return c.db.Close()
}

func (c *cache) put(cfg StreamConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return apperror.Wrap(apperror.KindFatal, "marshal stream config", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		return b.Put([]byte(cfg.Name), data)
	})
}

func (c *cache) get(name string) (StreamConfig, error) {
	var cfg StreamConfig
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		data := b.Get([]byte(name))
		if data == nil {
			return apperror.New(apperror.KindObjectStoreNotFound, fmt.Sprintf("stream %q not cached", name))
		}
		return json.Unmarshal(data, &cfg)
	})
	return cfg, err
}

func (c *cache) list() ([]StreamConfig, error) {
	var out []StreamConfig
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		return b.ForEach(func(_, v []byte) error {
			var cfg StreamConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			out = append(out, cfg)
			return nil
		})
	})
	return out, err
}

func (c *cache) delete(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		return b.Delete([]byte(name))
	})
}
