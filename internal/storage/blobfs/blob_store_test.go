package blobfs

import (
	"bytes"
	"testing"
)

func newTestBlobStore(t *testing.T) *BlobStore {
	t.Helper()
	store, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	return store
}

func TestPutGetDeleteBlob(t *testing.T) {
	store := newTestBlobStore(t)

	payload := []byte{0x00, 0x01, 0xFF, 0xFE, 0x42}
	if err := store.PutBlob("chk:test-1", payload); err != nil {
		t.Fatalf("PutBlob failed: %v", err)
	}

	got, err := store.GetBlob("chk:test-1")
	if err != nil {
		t.Fatalf("GetBlob failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("blob = %v, want %v", got, payload)
	}

	if err := store.DeleteBlob("chk:test-1"); err != nil {
		t.Fatalf("DeleteBlob failed: %v", err)
	}
	if _, err := store.GetBlob("chk:test-1"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestPutBlobOverwrites(t *testing.T) {
	store := newTestBlobStore(t)

	if err := store.PutBlob("chk:test-1", []byte("first")); err != nil {
		t.Fatalf("PutBlob failed: %v", err)
	}
	if err := store.PutBlob("chk:test-1", []byte("second")); err != nil {
		t.Fatalf("PutBlob overwrite failed: %v", err)
	}

	got, err := store.GetBlob("chk:test-1")
	if err != nil {
		t.Fatalf("GetBlob failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("blob = %q, want %q", got, "second")
	}
}

func TestDeleteBlobToleratesMissing(t *testing.T) {
	store := newTestBlobStore(t)

	if err := store.DeleteBlob("chk:never-existed"); err != nil {
		t.Errorf("DeleteBlob on missing key: %v", err)
	}
}

func TestBlobKeysRoundTrip(t *testing.T) {
	store := newTestBlobStore(t)

	ids := []string{"chk:aaa", "chk:bbb"}
	for _, id := range ids {
		if err := store.PutBlob(id, []byte("x")); err != nil {
			t.Fatalf("PutBlob failed: %v", err)
		}
	}

	keys, err := store.BlobKeys()
	if err != nil {
		t.Fatalf("BlobKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	found := map[string]bool{}
	for _, key := range keys {
		found[key] = true
	}
	for _, id := range ids {
		if !found[id] {
			t.Errorf("key %q missing from BlobKeys (got %v)", id, keys)
		}
	}
}
