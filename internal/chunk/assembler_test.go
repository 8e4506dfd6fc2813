package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vizorhq/vizor/internal/logging"
)

func TestPutInOrder(t *testing.T) {
	a := NewAssembler(Config{}, logging.Nop())
	chunks := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("cc")}

	for i, c := range chunks[:2] {
		res, err := a.Put("k", i, 3, c)
		if err != nil {
			t.Fatal(err)
		}
		if res.Complete {
			t.Fatalf("complete after %d of 3 chunks", i+1)
		}
		if res.Received != i+1 || res.Total != 3 {
			t.Errorf("progress = %d/%d, want %d/3", res.Received, res.Total, i+1)
		}
	}

	res, err := a.Put("k", 2, 3, chunks[2])
	if err != nil {
		t.Fatal(err)
	}
	if !res.Complete {
		t.Fatal("not complete after final chunk")
	}
	if !bytes.Equal(res.Data, []byte("aaabbbcc")) {
		t.Errorf("assembled = %q", res.Data)
	}
	if a.Pending() != 0 {
		t.Error("buffer not cleared after completion")
	}
}

func TestPutOutOfOrder(t *testing.T) {
	a := NewAssembler(Config{}, logging.Nop())

	// Assembly is by index, not arrival order.
	order := []int{3, 0, 2, 1}
	var res Result
	var err error
	for _, i := range order {
		res, err = a.Put("k", i, 4, []byte{byte('0' + i)})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !res.Complete || string(res.Data) != "0123" {
		t.Errorf("out-of-order assembly failed: %+v", res)
	}
}

func TestPutDuplicateIndexOverwrites(t *testing.T) {
	a := NewAssembler(Config{}, logging.Nop())

	if _, err := a.Put("k", 0, 2, []byte("old")); err != nil {
		t.Fatal(err)
	}
	res, err := a.Put("k", 0, 2, []byte("new"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != 1 {
		t.Errorf("duplicate counted twice: %+v", res)
	}

	res, err = a.Put("k", 1, 2, []byte("!"))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Data) != "new!" {
		t.Errorf("assembled = %q, want new!", res.Data)
	}
}

func TestPutRejectsOversizedChunk(t *testing.T) {
	a := NewAssembler(Config{MaxChunkBytes: 4}, logging.Nop())
	_, err := a.Put("k", 0, 2, []byte("12345"))
	if !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("expected ErrChunkTooLarge, got %v", err)
	}
	// The rejected chunk must not have been buffered.
	if a.Pending() != 0 {
		t.Error("rejected chunk left a buffer behind")
	}
}

func TestPutRejectsOversizedAssembly(t *testing.T) {
	a := NewAssembler(Config{MaxChunkBytes: 8, MaxAssembledBytes: 10}, logging.Nop())

	if _, err := a.Put("k", 0, 2, []byte("12345678")); err != nil {
		t.Fatal(err)
	}
	_, err := a.Put("k", 1, 2, []byte("12345678"))
	if !errors.Is(err, ErrAssembledTooLarge) {
		t.Fatalf("expected ErrAssembledTooLarge, got %v", err)
	}
	// Nothing is handed downstream and the buffer is gone.
	if a.Pending() != 0 {
		t.Error("oversized assembly left a buffer behind")
	}
}

func TestPutValidatesIndices(t *testing.T) {
	a := NewAssembler(Config{}, logging.Nop())
	cases := []struct{ index, total int }{
		{-1, 2}, {2, 2}, {0, 0},
	}
	for _, c := range cases {
		if _, err := a.Put("k", c.index, c.total, nil); !errors.Is(err, ErrBadIndex) {
			t.Errorf("Put(index=%d, total=%d) = %v, want ErrBadIndex", c.index, c.total, err)
		}
	}
}

func TestPutTotalMismatch(t *testing.T) {
	a := NewAssembler(Config{}, logging.Nop())
	if _, err := a.Put("k", 0, 3, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Put("k", 1, 4, []byte("b")); !errors.Is(err, ErrTotalMismatch) {
		t.Errorf("expected ErrTotalMismatch, got %v", err)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	a := NewAssembler(Config{}, logging.Nop())
	done := make(chan error, 8)
	for g := 0; g < 8; g++ {
		key := fmt.Sprintf("key-%d", g)
		go func() {
			var lastErr error
			for i := 0; i < 4; i++ {
				res, err := a.Put(key, i, 4, []byte{byte(i)})
				if err != nil {
					lastErr = err
					break
				}
				if i == 3 && !res.Complete {
					lastErr = fmt.Errorf("%s never completed", key)
				}
			}
			done <- lastErr
		}()
	}
	for g := 0; g < 8; g++ {
		if err := <-done; err != nil {
			t.Error(err)
		}
	}
	if a.Pending() != 0 {
		t.Errorf("buffers left: %d", a.Pending())
	}
}

func TestSweepDropsIdleBuffers(t *testing.T) {
	a := NewAssembler(Config{IdleTTL: 5 * time.Millisecond, SweepInterval: 10 * time.Millisecond}, logging.Nop())
	a.Start()
	defer a.Stop()

	if _, err := a.Put("stale", 0, 2, []byte("a")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle buffer never swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPutTotalMismatchDropsBuffer(t *testing.T) {
	a := NewAssembler(Config{}, logging.Nop())
	if _, err := a.Put("k", 0, 3, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Put("k", 0, 2, []byte("x")); !errors.Is(err, ErrTotalMismatch) {
		t.Fatalf("expected ErrTotalMismatch, got %v", err)
	}

	// The stale buffer is gone, so a restarted upload with the new
	// chunk count completes without waiting for the idle sweep.
	if _, err := a.Put("k", 0, 2, []byte("x")); err != nil {
		t.Fatal(err)
	}
	res, err := a.Put("k", 1, 2, []byte("y"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Complete || string(res.Data) != "xy" {
		t.Errorf("restarted upload did not assemble: %+v", res)
	}
}

func TestCompletionsRaceSweep(t *testing.T) {
	a := NewAssembler(Config{IdleTTL: time.Millisecond, SweepInterval: time.Millisecond}, logging.Nop())
	a.Start()
	defer a.Stop()

	done := make(chan error, 8)
	for g := 0; g < 8; g++ {
		key := fmt.Sprintf("key-%d", g)
		go func() {
			for n := 0; n < 200; n++ {
				if _, err := a.Put(key, 0, 2, []byte("a")); err != nil {
					done <- err
					return
				}
				res, err := a.Put(key, 1, 2, []byte("b"))
				if err != nil {
					done <- err
					return
				}
				if res.Complete && string(res.Data) != "ab" {
					done <- fmt.Errorf("%s assembled %q", key, res.Data)
					return
				}
			}
			done <- nil
		}()
	}

	timeout := time.After(30 * time.Second)
	for g := 0; g < 8; g++ {
		select {
		case err := <-done:
			if err != nil {
				t.Error(err)
			}
		case <-timeout:
			t.Fatal("uploads stuck while sweeping")
		}
	}
}
