package memtable

import (
	"testing"

	"github.com/return2faye/siltkv/internal/keys"
)

// newest returns the newest version of userKey, or nil when the skip
// list holds no version of it.
func newest(sl *SkipList, userKey string) *node {
	n := sl.Seek(keys.LowerBound([]byte(userKey)))
	if n == nil || string(n.key.UserKey()) != userKey {
		return nil
	}
	return n
}

func TestSkipListPutGet(t *testing.T) {
	sl := NewSkipList()

	// Insert some data, one sequence number per entry
	testData := map[string]string{
		"key3": "value3",
		"key1": "value1",
		"key2": "value2",
		"key5": "value5",
		"key4": "value4",
	}

	seq := uint64(1)
	for k, v := range testData {
		sl.Insert(keys.MakeInternalKey([]byte(k), seq, keys.TypeSet), []byte(v))
		seq++
	}

	// Get all data
	for k, expectedV := range testData {
		n := newest(sl, k)
		if n == nil {
			t.Errorf("Key %s not found", k)
			continue
		}
		if string(n.value) != expectedV {
			t.Errorf("Key %s: expected %s, got %s", k, expectedV, string(n.value))
		}
	}

	// Get non-existent key
	if newest(sl, "nonexistent") != nil {
		t.Error("Non-existent key should not be found")
	}
}

func TestSkipListUpdate(t *testing.T) {
	sl := NewSkipList()

	// Insert initial value
	sl.Insert(keys.MakeInternalKey([]byte("key1"), 1, keys.TypeSet), []byte("value1"))

	// Update it: a newer version with a higher sequence number
	sl.Insert(keys.MakeInternalKey([]byte("key1"), 2, keys.TypeSet), []byte("value1_updated"))

	// Verify update: the newest version sorts first
	n := newest(sl, "key1")
	if n == nil {
		t.Fatal("Key should exist after update")
	}
	if string(n.value) != "value1_updated" {
		t.Errorf("Expected value1_updated, got %s", string(n.value))
	}
}

func TestSkipListDelete(t *testing.T) {
	sl := NewSkipList()

	// Insert a key
	sl.Insert(keys.MakeInternalKey([]byte("key1"), 1, keys.TypeSet), []byte("value1"))

	// Verify it exists
	n := newest(sl, "key1")
	if n == nil {
		t.Fatal("Key should exist before delete")
	}
	if string(n.value) != "value1" {
		t.Errorf("Expected value1, got %s", string(n.value))
	}

	// Delete it (tombstone: a newer TypeDel internal key)
	sl.Insert(keys.MakeInternalKey([]byte("key1"), 2, keys.TypeDel), nil)

	// Verify it's gone (the newest version is the tombstone)
	n = newest(sl, "key1")
	if n == nil || n.key.Type() != keys.TypeDel {
		t.Error("Key should not be found after delete (tombstone)")
	}
}

func TestSkipListIterator(t *testing.T) {
	sl := NewSkipList()

	// Put data in random order
	testData := []struct {
		key   string
		value string
	}{
		{"key3", "value3"},
		{"key1", "value1"},
		{"key2", "value2"},
		{"key5", "value5"},
		{"key4", "value4"},
	}

	for i, d := range testData {
		sl.Insert(keys.MakeInternalKey([]byte(d.key), uint64(i+1), keys.TypeSet), []byte(d.value))
	}

	// Iterate and verify order
	it := sl.NewIterator()
	expectedOrder := []string{"key1", "key2", "key3", "key4", "key5"}
	idx := 0

	for it.Valid() {
		if idx >= len(expectedOrder) {
			t.Errorf("Iterator returned more items than expected")
			break
		}

		key := string(it.Key().UserKey())
		if key != expectedOrder[idx] {
			t.Errorf("Position %d: expected %s, got %s", idx, expectedOrder[idx], key)
		}

		it.Next()
		idx++
	}

	if idx != len(expectedOrder) {
		t.Errorf("Expected %d items, got %d", len(expectedOrder), idx)
	}
}

func TestSkipListSize(t *testing.T) {
	sl := NewSkipList()

	if sl.size != 0 {
		t.Errorf("New skip list should have size 0, got %d", sl.size)
	}

	// Insert some data
	sl.Insert(keys.MakeInternalKey([]byte("key1"), 1, keys.TypeSet), []byte("value1"))
	if sl.size != 1 {
		t.Errorf("Expected size 1, got %d", sl.size)
	}

	sl.Insert(keys.MakeInternalKey([]byte("key2"), 2, keys.TypeSet), []byte("value2"))
	if sl.size != 2 {
		t.Errorf("Expected size 2, got %d", sl.size)
	}

	// Re-insert an identical internal key (same user key and sequence
	// number): the value is overwritten in place, size does not grow
	sl.Insert(keys.MakeInternalKey([]byte("key1"), 1, keys.TypeSet), []byte("value1_updated"))
	if sl.size != 2 {
		t.Errorf("Update should not increase size, expected 2, got %d", sl.size)
	}
}
