// Package convcache persists the conversation id to current-node mapping in
// a local BoltDB file, so threading picks up where the last run left off.
package convcache

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("conv_nodes")

// Cache is a bbolt-backed conversation id -> parent id map. It satisfies
// chatbot.ConversationCache.
type Cache struct {
	mu   sync.Mutex
	path string
	mem  map[string]string
}

// Open loads the mapping from the BoltDB file at path, creating the file and
// its directory as needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	c := &Cache{path: path, mem: map[string]string{}}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			c.mem[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Current returns the stored node for a conversation.
func (c *Cache) Current(conversationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.mem[conversationID]
	return node, ok
}

// SetCurrent records the node and writes it through to disk.
func (c *Cache) SetCurrent(conversationID, parentID string) error {
	c.mu.Lock()
	c.mem[conversationID] = parentID
	c.mu.Unlock()

	db, err := bolt.Open(c.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(conversationID), []byte(parentID))
	})
}

// Forget removes a conversation from the cache.
func (c *Cache) Forget(conversationID string) error {
	c.mu.Lock()
	delete(c.mem, conversationID)
	c.mu.Unlock()

	db, err := bolt.Open(c.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(conversationID))
	})
}
