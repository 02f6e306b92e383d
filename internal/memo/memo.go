package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sarthi-app/sarthi/internal/kv"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix prefixes every group record key.
const KeyPrefix = "sarthi_chapter_"

// Generator produces the value for a missing entry.
type Generator func(ctx context.Context) (string, error)

// Cache is the memoization layer over a kv.Store.
//
// Concurrent misses for the same entry share a single Generator call, and
// record updates are serialized so that entries written concurrently for
// different items of a group are all kept.
type Cache struct {
	store  kv.Store
	flight singleflight.Group

	// guards the load, modify and save of a record
	mu sync.Mutex
}

// New returns a Cache backed by store.
func New(store kv.Store) *Cache {
	return &Cache{store: store}
}

// RecordKey is the store key of the record for group.
func RecordKey(group string) string {
	return KeyPrefix + group
}

// EntryKey is the key of an entry inside a group record.
func EntryKey(item, language string) string {
	return item + "_" + language
}

type record map[string]json.RawMessage

// GetOrGenerate returns the stored value for (group, item, language), calling
// gen only when there is none. An error from gen is returned unchanged and
// nothing is stored. A record that cannot be decoded is logged and treated as
// empty; the next successful generation replaces it with a valid one.
func (c *Cache) GetOrGenerate(ctx context.Context, group, item, language string, gen Generator) (string, error) {
	if value, ok, err := c.Lookup(ctx, group, item, language); err != nil {
		return "", err
	} else if ok {
		return value, nil
	}

	flightKey := RecordKey(group) + "\x00" + EntryKey(item, language)
	// The flight ignores cancellation; each caller waits on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		ctx := flightCtx
		// Another flight may have stored it since the lookup above.
		if value, ok, err := c.Lookup(ctx, group, item, language); err != nil {
			return "", err
		} else if ok {
			return value, nil
		}

		value, err := gen(ctx)
		if err != nil {
			return "", err
		}
		if err := c.put(ctx, group, EntryKey(item, language), value); err != nil {
			log.Warn("could not persist generated value", "group", group, "entry", EntryKey(item, language), "error", err)
		}
		return value, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		log.Debug("shared in-flight generation", "group", group, "entry", EntryKey(item, language))
	}
	if res.Err != nil {
		return "", res.Err
	}
	return res.Val.(string), nil
}

// Lookup returns the stored value without generating. Empty values count
// as missing.
func (c *Cache) Lookup(ctx context.Context, group, item, language string) (string, bool, error) {
	rec, err := c.load(ctx, group)
	if err != nil {
		return "", false, err
	}
	value, ok := rec.text(EntryKey(item, language))
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Entries returns every text entry of group keyed by entry key.
func (c *Cache) Entries(ctx context.Context, group string) (map[string]string, error) {
	rec, err := c.load(ctx, group)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rec))
	for key := range rec {
		if value, ok := rec.text(key); ok {
			out[key] = value
		}
	}
	return out, nil
}

// Groups lists the groups that have a record, numerically where possible.
func (c *Cache) Groups(ctx context.Context) ([]string, error) {
	keys, err := c.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list memo records: %w", err)
	}
	groups := make([]string, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, strings.TrimPrefix(key, KeyPrefix))
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, errA := strconv.Atoi(groups[i])
		b, errB := strconv.Atoi(groups[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return groups[i] < groups[j]
	})
	return groups, nil
}

// Forget removes a single entry. The rest of the record is kept.
func (c *Cache) Forget(ctx context.Context, group, item, language string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(ctx, group)
	if err != nil {
		return err
	}
	key := EntryKey(item, language)
	if _, ok := rec[key]; !ok {
		return nil
	}
	delete(rec, key)
	return c.save(ctx, group, rec)
}

func (c *Cache) put(ctx context.Context, group, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(ctx, group)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	rec[key] = raw
	return c.save(ctx, group, rec)
}

func (c *Cache) load(ctx context.Context, group string) (record, error) {
	data, ok, err := c.store.Get(ctx, RecordKey(group))
	if err != nil {
		return nil, fmt.Errorf("load memo record %s: %w", group, err)
	}
	if !ok || data == "" {
		return record{}, nil
	}

	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		log.Warn("discarding unreadable memo record", "key", RecordKey(group), "error", err)
		return record{}, nil
	}
	if rec == nil {
		return record{}, nil
	}
	return rec, nil
}

func (c *Cache) save(ctx context.Context, group string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode memo record %s: %w", group, err)
	}
	if err := c.store.Set(ctx, RecordKey(group), string(data)); err != nil {
		return fmt.Errorf("save memo record %s: %w", group, err)
	}
	return nil
}

func (r record) text(key string) (string, bool) {
	raw, ok := r[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}
