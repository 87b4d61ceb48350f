package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tracelane/tracelane/pkg/parser"
)

func TestNewWatcher_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewWatcher(filepath.Join(dir, "missing"), 0); err == nil {
		t.Error("Expected error for missing directory")
	}
	if _, err := NewWatcher(file, 0); err == nil {
		t.Error("Expected error for a regular file")
	}
}

func TestWatcher_TriggersOnTraceWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	var calls atomic.Int32
	done := make(chan string, 4)
	w.OnChange = func(d string) error {
		calls.Add(1)
		done <- d
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Unrelated files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, parser.MetricsFile), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-done:
		if got != w.Dir() {
			t.Errorf("OnChange dir = %s, want %s", got, w.Dir())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnChange not called")
	}

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("OnChange called %d times, want 1", n)
	}
}

func TestWatcher_ChangedComparesState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, parser.DescriptorsFile)
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if w.changed() {
		t.Error("Expected no change right after creation")
	}
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !w.changed() {
		t.Error("Expected change after resize")
	}
	if w.changed() {
		t.Error("State should be refreshed after a check")
	}
}
