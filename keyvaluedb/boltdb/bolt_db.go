package boltdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/types"
	bolt "go.etcd.io/bbolt"
)

const (
	defaultBucket      = "qvalidator"
	defaultOpenTimeout = 3 * time.Second
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	BoltDB struct {
		db      *bolt.DB
		bucket  []byte
		encoder EncodeFn
		decoder DecodeFn
	}

	options struct {
		bucket      []byte
		openTimeout time.Duration
	}

	Option func(*options)
)

var errNotFound = errors.New("db entry not found")

// WithBucket sets the name of the bucket all the keys are stored in.
func WithBucket(name string) Option {
	return func(o *options) {
		o.bucket = []byte(name)
	}
}

// WithOpenTimeout sets how long New waits for the file lock held by another process.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		o.openTimeout = d
	}
}

// New opens (or creates) Bolt DB file. Values are CBOR encoded.
func New(dbFile string, opts ...Option) (*BoltDB, error) {
	o := &options{bucket: []byte(defaultBucket), openTimeout: defaultOpenTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.bucket) == 0 {
		return nil, errors.New("bucket name is empty")
	}
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: o.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", dbFile, err)
	}
	s := &BoltDB{
		db:      db,
		bucket:  o.bucket,
		encoder: types.Cbor.Marshal,
		decoder: types.Cbor.Unmarshal,
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	}); err != nil {
		return nil, errors.Join(fmt.Errorf("create bucket %q: %w", s.bucket, err), db.Close())
	}
	return s, nil
}

func (db *BoltDB) Path() string {
	return db.db.Path()
}

func (db *BoltDB) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	err := db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(db.bucket).Get(key)
		if data == nil {
			return errNotFound
		}
		return db.decoder(data, v)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotFound):
		return false, nil
	default:
		return true, fmt.Errorf("reading key %X: %w", key, err)
	}
}

func (db *BoltDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return fmt.Errorf("encoding value of key %X: %w", key, err)
	}
	return db.update(func(bucket *bolt.Bucket) error { return bucket.Put(key, b) })
}

func (db *BoltDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	return db.update(func(bucket *bolt.Bucket) error { return bucket.Delete(key) })
}

func (db *BoltDB) update(fn func(bucket *bolt.Bucket) error) error {
	if err := db.db.Update(func(tx *bolt.Tx) error { return fn(tx.Bucket(db.bucket)) }); err != nil {
		return fmt.Errorf("bolt db update: %w", err)
	}
	return nil
}

func (db *BoltDB) First() keyvaluedb.Iterator {
	return db.iterator(func(it *Itr) { it.first() })
}

func (db *BoltDB) Last() keyvaluedb.Iterator {
	return db.iterator(func(it *Itr) { it.last() })
}

func (db *BoltDB) Find(key []byte) keyvaluedb.Iterator {
	return db.iterator(func(it *Itr) { it.seek(key) })
}

func (db *BoltDB) iterator(position func(it *Itr)) keyvaluedb.Iterator {
	it := NewIterator(db.db, db.bucket, db.decoder)
	position(it)
	return it
}

func (db *BoltDB) StartTx() (keyvaluedb.DBTransaction, error) {
	tx, err := NewBoltTx(db.db, db.bucket, db.encoder, db.decoder)
	if err != nil {
		return nil, fmt.Errorf("starting bolt tx: %w", err)
	}
	return tx, nil
}

func (db *BoltDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}
