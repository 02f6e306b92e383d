package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sarthi-app/sarthi/internal/kv"
)

type countingGen struct {
	calls atomic.Int32
	value string
	err   error
}

func (g *countingGen) gen(context.Context) (string, error) {
	g.calls.Add(1)
	return g.value, g.err
}

func readRecord(t *testing.T, store kv.Store, group string) map[string]string {
	t.Helper()
	data, ok, err := store.Get(context.Background(), RecordKey(group))
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	if !ok {
		return nil
	}
	var rec map[string]string
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		t.Fatalf("stored record is not a JSON object of strings: %v (%q)", err, data)
	}
	return rec
}

func TestKeys(t *testing.T) {
	if got := RecordKey("7"); got != "sarthi_chapter_7" {
		t.Errorf("RecordKey = %q", got)
	}
	if got := EntryKey("12", "hindi"); got != "12_hindi" {
		t.Errorf("EntryKey = %q", got)
	}
}

func TestGetOrGenerate_ChapterSevenScenario(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	c := New(store)

	hindi := &countingGen{value: "अर्थ"}
	got, err := c.GetOrGenerate(ctx, "7", "12", "hindi", hindi.gen)
	if err != nil || got != "अर्थ" {
		t.Fatalf("first call = %q, %v", got, err)
	}
	if hindi.calls.Load() != 1 {
		t.Fatalf("generator calls = %d, want 1", hindi.calls.Load())
	}

	got, err = c.GetOrGenerate(ctx, "7", "12", "hindi", hindi.gen)
	if err != nil || got != "अर्थ" {
		t.Fatalf("second call = %q, %v", got, err)
	}
	if hindi.calls.Load() != 1 {
		t.Errorf("a hit must not call the generator; calls = %d", hindi.calls.Load())
	}

	gujarati := &countingGen{value: "અર્થ"}
	got, err = c.GetOrGenerate(ctx, "7", "12", "gujarati", gujarati.gen)
	if err != nil || got != "અર્થ" {
		t.Fatalf("third call = %q, %v", got, err)
	}
	if gujarati.calls.Load() != 1 {
		t.Errorf("another language is a miss; calls = %d", gujarati.calls.Load())
	}

	rec := readRecord(t, store, "7")
	if rec["12_hindi"] != "अर्थ" || rec["12_gujarati"] != "અર્થ" || len(rec) != 2 {
		t.Errorf("record = %v, want both languages", rec)
	}
}

func TestGetOrGenerate_GeneratorErrorPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	c := New(store)

	errBlocked := errors.New("blocked")
	failing := &countingGen{err: errBlocked}
	if _, err := c.GetOrGenerate(ctx, "2", "47", "english", failing.gen); !errors.Is(err, errBlocked) {
		t.Fatalf("error = %v, want the generator's error", err)
	}
	if _, ok, _ := store.Get(ctx, RecordKey("2")); ok {
		t.Error("a failed generation must not create a record")
	}

	ok := &countingGen{value: "meaning"}
	if got, err := c.GetOrGenerate(ctx, "2", "47", "english", ok.gen); err != nil || got != "meaning" {
		t.Errorf("retry = %q, %v", got, err)
	}
}

func TestGetOrGenerate_GeneratorErrorLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	c := New(store)

	if _, err := c.GetOrGenerate(ctx, "2", "1", "english", (&countingGen{value: "one"}).gen); err != nil {
		t.Fatal(err)
	}
	before, _, _ := store.Get(ctx, RecordKey("2"))

	if _, err := c.GetOrGenerate(ctx, "2", "2", "english", (&countingGen{err: errors.New("offline")}).gen); err == nil {
		t.Fatal("expected an error")
	}
	after, _, _ := store.Get(ctx, RecordKey("2"))
	if before != after {
		t.Errorf("record changed from %q to %q", before, after)
	}
}

func TestGetOrGenerate_CorruptRecordIsColdMiss(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{name: "not json", stored: "{not json"},
		{name: "array", stored: `["a","b"]`},
		{name: "string", stored: `"text"`},
		{name: "null", stored: "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := kv.NewMemoryStore()
			if err := store.Set(ctx, RecordKey("3"), tt.stored); err != nil {
				t.Fatal(err)
			}

			c := New(store)
			g := &countingGen{value: "fresh"}
			got, err := c.GetOrGenerate(ctx, "3", "5", "english", g.gen)
			if err != nil {
				t.Fatalf("corrupt record must not be an error: %v", err)
			}
			if got != "fresh" || g.calls.Load() != 1 {
				t.Errorf("got %q with %d calls", got, g.calls.Load())
			}

			rec := readRecord(t, store, "3")
			if len(rec) != 1 || rec["5_english"] != "fresh" {
				t.Errorf("record = %v, want a valid record with the new entry", rec)
			}
		})
	}
}

func TestGetOrGenerate_EmptyValueCountsAsMiss(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	_ = store.Set(ctx, RecordKey("4"), `{"1_english":"","2_english":42}`)

	c := New(store)
	for _, item := range []string{"1", "2"} {
		g := &countingGen{value: "filled"}
		got, err := c.GetOrGenerate(ctx, "4", item, "english", g.gen)
		if err != nil || got != "filled" || g.calls.Load() != 1 {
			t.Errorf("item %s: got %q, %v with %d calls", item, got, err, g.calls.Load())
		}
	}
}

func TestGetOrGenerate_KeepsUnrelatedEntries(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	_ = store.Set(ctx, RecordKey("9"), `{"1_tamil":"existing","note":{"x":1}}`)

	c := New(store)
	if _, err := c.GetOrGenerate(ctx, "9", "2", "tamil", (&countingGen{value: "new"}).gen); err != nil {
		t.Fatal(err)
	}

	data, _, _ := store.Get(ctx, RecordKey("9"))
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["1_tamil"]) != `"existing"` || string(raw["2_tamil"]) != `"new"` || string(raw["note"]) != `{"x":1}` {
		t.Errorf("record = %s", data)
	}
}

func TestGetOrGenerate_ConcurrentMissesCoalesce(t *testing.T) {
	ctx := context.Background()
	c := New(kv.NewMemoryStore())

	var calls atomic.Int32
	release := make(chan struct{})
	gen := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "once", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrGenerate(ctx, "7", "12", "hindi", gen)
			if err != nil {
				t.Errorf("GetOrGenerate: %v", err)
			}
			results <- v
		}()
	}

	// Let every caller reach the in-flight generation before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != "once" {
			t.Errorf("result = %q", v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("generator calls = %d, want 1 for concurrent misses of one key", n)
	}
}

func TestGetOrGenerate_CancelledCallerDoesNotFailSharedMiss(t *testing.T) {
	c := New(kv.NewMemoryStore())

	started := make(chan struct{})
	release := make(chan struct{})
	gen := func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
			return "shared", nil
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrGenerate(firstCtx, "2", "47", "english", gen)
		firstErr <- err
	}()
	<-started

	type result struct {
		value string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.GetOrGenerate(context.Background(), "2", "47", "english", gen)
		second <- result{v, err}
	}()

	// Give the second caller time to join the in-flight generation.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(release)
	got := <-second
	if got.err != nil || got.value != "shared" {
		t.Fatalf("live caller = %q, %v, want the generated value", got.value, got.err)
	}

	v, ok, err := c.Lookup(context.Background(), "2", "47", "english")
	if err != nil || !ok || v != "shared" {
		t.Errorf("Lookup = %q, %v, %v", v, ok, err)
	}
}

func TestGetOrGenerate_ConcurrentItemsOfOneGroupAreAllKept(t *testing.T) {
	ctx := context.Background()
	store, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "memo.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	c := New(store)

	const items = 20
	var wg sync.WaitGroup
	for i := 1; i <= items; i++ {
		wg.Add(1)
		go func(item string) {
			defer wg.Done()
			gen := func(context.Context) (string, error) { return "v" + item, nil }
			if _, err := c.GetOrGenerate(ctx, "11", item, "english", gen); err != nil {
				t.Errorf("item %s: %v", item, err)
			}
		}(fmt.Sprint(i))
	}
	wg.Wait()

	entries, err := c.Entries(ctx, "11")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != items {
		t.Errorf("record holds %d entries, want %d", len(entries), items)
	}
}

func TestLookupAndForget(t *testing.T) {
	ctx := context.Background()
	c := New(kv.NewMemoryStore())

	if _, ok, err := c.Lookup(ctx, "1", "1", "english"); err != nil || ok {
		t.Fatalf("Lookup on empty = %v, %v", ok, err)
	}
	_, _ = c.GetOrGenerate(ctx, "1", "1", "english", (&countingGen{value: "a"}).gen)
	_, _ = c.GetOrGenerate(ctx, "1", "1", "hindi", (&countingGen{value: "b"}).gen)

	if v, ok, _ := c.Lookup(ctx, "1", "1", "english"); !ok || v != "a" {
		t.Errorf("Lookup = %q, %v", v, ok)
	}

	if err := c.Forget(ctx, "1", "1", "english"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok, _ := c.Lookup(ctx, "1", "1", "english"); ok {
		t.Error("forgotten entry still present")
	}
	if v, ok, _ := c.Lookup(ctx, "1", "1", "hindi"); !ok || v != "b" {
		t.Error("Forget must keep other languages")
	}
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	_ = store.Set(ctx, "geminiApiKey", "k")
	c := New(store)

	for _, g := range []string{"18", "2", "10"} {
		if _, err := c.GetOrGenerate(ctx, g, "1", "english", (&countingGen{value: "x"}).gen); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := c.Groups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2", "10", "18"}
	if len(groups) != len(want) {
		t.Fatalf("Groups = %v, want %v", groups, want)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Errorf("Groups[%d] = %q, want %q", i, groups[i], want[i])
		}
	}
}
