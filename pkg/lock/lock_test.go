package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWithLockRunsBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.lock")

	ran := false
	err := WithLock(path, func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !ran {
		t.Fatal("body did not run")
	}

	// Sentinel stays behind; that is documented behavior.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sentinel missing after release: %v", err)
	}
}

func TestWithLockPropagatesBodyError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.lock")
	wantErr := errors.New("boom")

	err := WithLock(path, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithLock() error = %v, want %v", err, wantErr)
	}

	// The lock must have been released despite the failure.
	err = WithLock(path, func() error { return nil })
	if err != nil {
		t.Fatalf("relock after failed body: %v", err)
	}
}

func TestWithLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.lock")

	var inner error
	err := WithLock(path, func() error {
		inner = WithLock(path, func() error {
			t.Error("inner body must not run")
			return nil
		})
		return nil
	})
	if err != nil {
		t.Fatalf("outer WithLock() error = %v", err)
	}
	if !errors.Is(inner, ErrLocked) {
		t.Fatalf("inner WithLock() error = %v, want ErrLocked", inner)
	}
}

func TestTryAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.lock")

	// Missing sentinel counts as acquirable.
	ok, err := TryAcquire(path)
	if err != nil || !ok {
		t.Fatalf("TryAcquire(missing) = %v, %v; want true, nil", ok, err)
	}

	err = WithLock(path, func() error {
		held, err := TryAcquire(path)
		if err != nil {
			return err
		}
		if held {
			t.Error("TryAcquire reported an acquired lock as free")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}

	ok, err = TryAcquire(path)
	if err != nil || !ok {
		t.Fatalf("TryAcquire(released) = %v, %v; want true, nil", ok, err)
	}
}
