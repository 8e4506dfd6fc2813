package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestFSStore(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create fs store: %v", err)
	}
	runStoreTests(t, store)
}

func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("basic CRUD", func(t *testing.T) {
		testBasicCRUD(t, ctx, store)
	})
	t.Run("conditional writes", func(t *testing.T) {
		testConditionalWrites(t, ctx, store)
	})
	t.Run("list operations", func(t *testing.T) {
		testListOperations(t, ctx, store)
	})
	t.Run("read-after-write", func(t *testing.T) {
		testReadAfterWrite(t, ctx, store)
	})
}

func testBasicCRUD(t *testing.T, ctx context.Context, store Store) {
	key := "test/basic/object.json"
	content := []byte(`{"hello":"world"}`)

	info, err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("size mismatch: got %d, want %d", info.Size, len(content))
	}
	if info.ETag == "" {
		t.Error("ETag should not be empty")
	}

	headInfo, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if headInfo.ETag != info.ETag {
		t.Errorf("head etag mismatch: got %s, want %s", headInfo.ETag, info.ETag)
	}

	rc, getInfo, err := store.Get(ctx, key, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("content mismatch: got %q, want %q", data, content)
	}
	if getInfo.ETag != info.ETag {
		t.Errorf("get etag mismatch: got %s, want %s", getInfo.ETag, info.ETag)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Head(ctx, key); !IsNotFoundError(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func testConditionalWrites(t *testing.T, ctx context.Context, store Store) {
	t.Run("PutIfAbsent", func(t *testing.T) {
		key := "test/conditional/if-absent.json"
		content := []byte("first")

		if _, err := store.PutIfAbsent(ctx, key, bytes.NewReader(content), int64(len(content)), nil); err != nil {
			t.Fatalf("first PutIfAbsent failed: %v", err)
		}

		_, err := store.PutIfAbsent(ctx, key, bytes.NewReader([]byte("second")), 6, nil)
		if !IsConflictError(err) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}

		rc, _, err := store.Get(ctx, key, nil)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if !bytes.Equal(data, content) {
			t.Errorf("content changed by losing PutIfAbsent: got %q, want %q", data, content)
		}

		store.Delete(ctx, key)
	})

	t.Run("PutIfMatch", func(t *testing.T) {
		key := "test/conditional/if-match.json"
		content := []byte("version 1")

		info, err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), nil)
		if err != nil {
			t.Fatalf("initial Put failed: %v", err)
		}
		originalETag := info.ETag

		newContent := []byte("version 2")
		info2, err := store.PutIfMatch(ctx, key, bytes.NewReader(newContent), int64(len(newContent)), originalETag, nil)
		if err != nil {
			t.Fatalf("PutIfMatch with correct ETag failed: %v", err)
		}
		if info2.ETag == originalETag {
			t.Error("ETag should change after update")
		}

		_, err = store.PutIfMatch(ctx, key, bytes.NewReader([]byte("version 3")), 9, originalETag, nil)
		if !IsPreconditionError(err) {
			t.Errorf("expected ErrPrecondition, got %v", err)
		}

		_, err = store.PutIfMatch(ctx, key+"-missing", bytes.NewReader([]byte("x")), 1, "etag", nil)
		if !IsNotFoundError(err) {
			t.Errorf("expected ErrNotFound for missing key, got %v", err)
		}

		store.Delete(ctx, key)
	})

	t.Run("GetWithIfMatch", func(t *testing.T) {
		key := "test/conditional/get-if-match.json"
		content := []byte("test content")

		info, err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), nil)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		rc, _, err := store.Get(ctx, key, &GetOptions{IfMatch: info.ETag})
		if err != nil {
			t.Fatalf("Get with matching IfMatch failed: %v", err)
		}
		rc.Close()

		if _, _, err := store.Get(ctx, key, &GetOptions{IfMatch: "wrongetag"}); !IsPreconditionError(err) {
			t.Errorf("expected ErrPrecondition for wrong IfMatch, got %v", err)
		}
		if _, _, err := store.Get(ctx, key, &GetOptions{IfNoneMatch: info.ETag}); !IsPreconditionError(err) {
			t.Errorf("expected ErrPrecondition for matching IfNoneMatch, got %v", err)
		}

		store.Delete(ctx, key)
	})
}

func testListOperations(t *testing.T, ctx context.Context, store Store) {
	keys := []string{
		"list/a/1.json",
		"list/a/2.json",
		"list/b/1.json",
		"list/c/1.json",
	}
	for _, key := range keys {
		content := []byte("content for " + key)
		if _, err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), nil); err != nil {
			t.Fatalf("Put failed for %s: %v", key, err)
		}
	}

	t.Run("list all", func(t *testing.T) {
		result, err := store.List(ctx, &ListOptions{Prefix: "list/"})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(result.Objects) != 4 {
			t.Errorf("expected 4 objects, got %d", len(result.Objects))
		}
	})

	t.Run("list with prefix", func(t *testing.T) {
		result, err := store.List(ctx, &ListOptions{Prefix: "list/a/"})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(result.Objects) != 2 {
			t.Errorf("expected 2 objects, got %d", len(result.Objects))
		}
	})

	t.Run("list with pagination", func(t *testing.T) {
		result, err := store.List(ctx, &ListOptions{Prefix: "list/", MaxKeys: 2})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(result.Objects) != 2 {
			t.Errorf("expected 2 objects, got %d", len(result.Objects))
		}
		if !result.IsTruncated {
			t.Error("expected IsTruncated to be true")
		}

		result2, err := store.List(ctx, &ListOptions{Prefix: "list/", MaxKeys: 2, Marker: result.NextMarker})
		if err != nil {
			t.Fatalf("List page 2 failed: %v", err)
		}
		if len(result2.Objects) != 2 {
			t.Errorf("expected 2 objects in page 2, got %d", len(result2.Objects))
		}
	})

	for _, key := range keys {
		store.Delete(ctx, key)
	}
}

func testReadAfterWrite(t *testing.T, ctx context.Context, store Store) {
	key := "test/raw/object.json"
	content := []byte("read after write test")

	info, err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, getInfo, err := store.Get(ctx, key, nil)
	if err != nil {
		t.Fatalf("Get immediately after Put failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("content mismatch: got %q, want %q", data, content)
	}
	if getInfo.ETag != info.ETag {
		t.Errorf("ETag mismatch in read-after-write: put=%s, get=%s", info.ETag, getInfo.ETag)
	}

	store.Delete(ctx, key)
}

func TestErrorHelpers(t *testing.T) {
	if !IsConflictError(ErrAlreadyExists) {
		t.Error("IsConflictError should return true for ErrAlreadyExists")
	}
	if IsConflictError(ErrNotFound) {
		t.Error("IsConflictError should return false for ErrNotFound")
	}
	if !IsPreconditionError(ErrPrecondition) {
		t.Error("IsPreconditionError should return true for ErrPrecondition")
	}
	if !IsNotFoundError(ErrNotFound) {
		t.Error("IsNotFoundError should return true for ErrNotFound")
	}

	cases := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{ErrNotFound, http.StatusNotFound},
		{ErrPrecondition, http.StatusPreconditionFailed},
		{ErrAlreadyExists, http.StatusConflict},
	}
	for _, tc := range cases {
		if got := ErrorToHTTPStatus(tc.err); got != tc.status {
			t.Errorf("ErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestFSStoreCreation(t *testing.T) {
	// Create store in a non-existent nested directory.
	subDir := filepath.Join(t.TempDir(), "subdir", "nested")
	store, err := NewFSStore(subDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	if _, err := store.Put(context.Background(), "test.json", bytes.NewReader([]byte("test")), 4, nil); err != nil {
		t.Errorf("Put after creation failed: %v", err)
	}
}

func TestFSStoreClear(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()

	store.Put(ctx, "a.json", bytes.NewReader([]byte("a")), 1, nil)
	store.Put(ctx, "b.json", bytes.NewReader([]byte("b")), 1, nil)

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	result, err := store.List(ctx, nil)
	if err != nil {
		t.Fatalf("List after clear failed: %v", err)
	}
	if len(result.Objects) != 0 {
		t.Errorf("expected 0 objects after clear, got %d", len(result.Objects))
	}
}

func TestNewStoreFactory(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		store, err := New(Config{Type: "memory"})
		if err != nil {
			t.Fatalf("New memory store failed: %v", err)
		}
		if _, err := store.Put(context.Background(), "test.json", bytes.NewReader([]byte("test")), 4, nil); err != nil {
			t.Errorf("Put failed: %v", err)
		}
	})

	t.Run("filesystem store", func(t *testing.T) {
		store, err := New(Config{Type: "fs", RootPath: filepath.Join(os.TempDir(), "vizor-factory-test")})
		defer os.RemoveAll(filepath.Join(os.TempDir(), "vizor-factory-test"))
		if err != nil {
			t.Fatalf("New fs store failed: %v", err)
		}
		if store == nil {
			t.Error("expected non-nil store")
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		if _, err := New(Config{Type: "unknown"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
