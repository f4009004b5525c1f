package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileStoreOpenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	fatal := make(chan error, 1)
	fs, content, err := NewFileStore(path, fatal)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if len(content) != 0 {
		t.Fatalf("initial content = %q, want empty", content)
	}
	if _, err := os.Stat(fs.Path()); err != nil {
		t.Fatalf("file should have been created: %v", err)
	}
}

func TestFileStoreOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, content, err := NewFileStore(path, make(chan error, 1))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "seed" {
		t.Fatalf("initial content = %q, want %q", content, "seed")
	}
}

func TestSaverNotifyAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	fs, _, err := NewFileStore(path, make(chan error, 1))
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	current := []byte("v1")
	snapshot := func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	done := make(chan struct{})
	go func() {
		fs.RunSaver(0, snapshot)
		close(done)
	}()

	fs.Notify()
	waitFor(t, func() bool {
		b, _ := os.ReadFile(path)
		return string(b) == "v1"
	})

	// 关闭前改内容，关闭时必须再刷一次
	mu.Lock()
	current = []byte("v2")
	mu.Unlock()
	fs.Close()
	<-done
	b, _ := os.ReadFile(path)
	if string(b) != "v2" {
		t.Fatalf("file after close = %q, want %q", b, "v2")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
