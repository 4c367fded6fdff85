package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const jar = "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\tSID\tabc\n"

func TestStageWritesPrivateFile(t *testing.T) {
	dir := t.TempDir()
	staged := 0
	stager, err := NewStager([]byte(jar), dir, WithStageHook(func() { staged++ }))
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}

	handle, err := stager.Stage("req-1")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if handle.Path() != filepath.Join(dir, "cookies-req-1.txt") {
		t.Fatalf("unexpected path %q", handle.Path())
	}
	info, err := os.Stat(handle.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}
	data, err := os.ReadFile(handle.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != jar {
		t.Fatalf("unexpected contents %q", data)
	}
	if staged != 1 {
		t.Fatalf("expected stage hook once, got %d", staged)
	}

	if err := handle.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(handle.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err %v", err)
	}
}

func TestStageWithoutCookiesReturnsNilHandle(t *testing.T) {
	stager, err := NewStager(nil, t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	if stager.Enabled() {
		t.Fatal("stager without cookies must be disabled")
	}
	handle, err := stager.Stage("req-1")
	if err != nil || handle != nil {
		t.Fatalf("expected nil handle and error, got %v %v", handle, err)
	}
	if handle.Path() != "" {
		t.Fatal("nil handle must have an empty path")
	}
	if err := handle.Release(); err != nil {
		t.Fatalf("releasing a nil handle must be a no-op: %v", err)
	}
}

func TestStagePathsAreUniquePerRequest(t *testing.T) {
	stager, err := NewStager([]byte(jar), t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}

	var (
		mu    sync.Mutex
		paths = make(map[string]struct{})
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := stager.Stage("")
			if err != nil {
				t.Errorf("Stage: %v", err)
				return
			}
			mu.Lock()
			paths[handle.Path()] = struct{}{}
			mu.Unlock()
			if err := handle.Release(); err != nil {
				t.Errorf("Release: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(paths) != 20 {
		t.Fatalf("expected 20 distinct paths, got %d", len(paths))
	}
	entries, err := os.ReadDir(stager.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected staging dir to be empty, found %d entries", len(entries))
	}
}

func TestStageRejectsDuplicateAndTraversalIDs(t *testing.T) {
	stager, err := NewStager([]byte(jar), t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	handle, err := stager.Stage("dup")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	defer handle.Release()

	if _, err := stager.Stage("dup"); err == nil {
		t.Fatal("expected second stage with the same id to fail")
	}
	if _, err := stager.Stage("../escape"); err == nil || !strings.Contains(err.Error(), "invalid request id") {
		t.Fatalf("expected traversal id to be rejected, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	stager, err := NewStager([]byte(jar), t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	handle, err := stager.Stage("once")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := handle.Release(); err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
	}
}

func TestReleaseToleratesExternalRemoval(t *testing.T) {
	stager, err := NewStager([]byte(jar), t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	handle, err := stager.Stage("gone")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := os.Remove(handle.Path()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := handle.Release(); err != nil {
		t.Fatalf("Release after external removal: %v", err)
	}
}
