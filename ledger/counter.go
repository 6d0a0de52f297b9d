package ledger

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
)

var heightKey = []byte("ledger/height")

// Counter is the monotonically increasing block height. The height is
// persisted on every increment when the counter is backed by a database.
type Counter struct {
	mu     sync.Mutex
	height atomic.Uint64
	db     keyvaluedb.KeyValueDB
}

// NewCounter loads the last stored height from db, db may be nil.
func NewCounter(db keyvaluedb.KeyValueDB, initial uint64) (*Counter, error) {
	c := &Counter{db: db}
	c.height.Store(initial)
	if db == nil {
		return c, nil
	}
	var stored uint64
	found, err := db.Read(heightKey, &stored)
	if err != nil {
		return nil, fmt.Errorf("reading block height: %w", err)
	}
	if found && stored > initial {
		c.height.Store(stored)
	}
	return c, nil
}

// Height returns the current block height.
func (c *Counter) Height() uint64 {
	return c.height.Load()
}

// Advance increments the height and returns the new value.
func (c *Counter) Advance() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.height.Load() + 1
	if c.db != nil {
		if err := c.db.Write(heightKey, next); err != nil {
			return 0, fmt.Errorf("storing block height: %w", err)
		}
	}
	c.height.Store(next)
	return next, nil
}
