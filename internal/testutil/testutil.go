// Package testutil provides testing utilities for quill tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteScene writes content to a file named name inside a fresh temporary
// directory and returns the full path. The directory is removed when the
// test completes.
func WriteScene(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write scene %s: %v", name, err)
	}
	return path
}

// ReadFile reads a file and fails the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// WaitFor polls cond every few milliseconds until it returns true or the
// timeout elapses, in which case the test fails with msg.
func WaitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, msg)
}

// Recv waits for a value on ch or fails the test after timeout.
func Recv[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for channel value", timeout)
	}
	var zero T
	return zero
}
