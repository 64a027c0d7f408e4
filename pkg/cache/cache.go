package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AngelSensor/angel-sdk/pkg/gatt"
)

// Entry is the cached attribute table of one peripheral, in snapshot text form.
type Entry struct {
	CreatedAt time.Time `json:"created_at"`
	Snapshot  string    `json:"snapshot"`
}

type TableCache struct {
	MaxEntries  int
	Peripherals map[string]Entry `json:"peripherals"`
	lock        sync.Mutex
}

// New returns a TableCache that holds attribute tables for up to maxEntries peripherals. When the
// cache is full, the entry with the oldest CreatedAt is evicted.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *TableCache {
	return &TableCache{
		MaxEntries:  maxEntries,
		Peripherals: make(map[string]Entry),
	}
}

func key(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Import a TableCache using data in r.
// The data should previously have been generated using [TableCache.Export].
func Import(r io.Reader) (*TableCache, error) {
	var cache TableCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	if cache.Peripherals == nil {
		cache.Peripherals = make(map[string]Entry)
	}
	return &cache, nil
}

// ImportFromFile reads a TableCache from disk.
func ImportFromFile(filename string) (*TableCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized TableCache to w.
func (c *TableCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a TableCache to disk.
func (c *TableCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Update the TableCache's entry for a peripheral address with t.
// Clients normally use peripheral.UpdateCachedTable instead.
func (c *TableCache) Update(address string, t *gatt.Table) error {
	text, err := t.MarshalText()
	if err != nil {
		return err
	}
	c.UpdateEntry(address, Entry{CreatedAt: time.Now(), Snapshot: string(text)})
	return nil
}

// UpdateEntry stores entry for address, evicting the oldest entry if the cache is full.
func (c *TableCache) UpdateEntry(address string, entry Entry) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.Peripherals[key(address)] = entry
	if c.MaxEntries > 0 && len(c.Peripherals) > c.MaxEntries {
		oldest := key(address)
		oldestCreationTime := entry.CreatedAt
		for a, e := range c.Peripherals {
			if e.CreatedAt.Before(oldestCreationTime) {
				oldest = a
				oldestCreationTime = e.CreatedAt
			}
		}
		delete(c.Peripherals, oldest)
	}
}

// GetEntry returns the entry associated with address.
func (c *TableCache) GetEntry(address string) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.Peripherals[key(address)]
	return entry, ok
}

// Table parses the cached table for address. It returns false if there is no entry.
func (c *TableCache) Table(address string) (*gatt.Table, bool, error) {
	entry, ok := c.GetEntry(address)
	if !ok {
		return nil, false, nil
	}
	var t gatt.Table
	if err := t.UnmarshalText([]byte(entry.Snapshot)); err != nil {
		return nil, false, fmt.Errorf("cached table for %s: %w", address, err)
	}
	return &t, true, nil
}

// Remove deletes the entry for address.
func (c *TableCache) Remove(address string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.Peripherals, key(address))
}
