package persist

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	ats "github.com/muasya/ats-go"
)

func exercise(t *testing.T, st ats.Storage) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want false, nil", ok, err)
	}
	if err := st.Set(ctx, "lastSelectedCompany", "c1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := st.Set(ctx, "lastSelectedCompany", "c2"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	v, ok, err := st.Get(ctx, "lastSelectedCompany")
	if err != nil || !ok || v != "c2" {
		t.Fatalf("Get() = %q, %v, %v; want c2, true, nil", v, ok, err)
	}
	if err := st.Delete(ctx, "lastSelectedCompany"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, _ := st.Get(ctx, "lastSelectedCompany"); ok {
		t.Error("key should be gone after Delete")
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestFile(t *testing.T) {
	exercise(t, NewFile(filepath.Join(t.TempDir(), "state", "store.json")))
}

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	if err := NewFile(path).Set(ctx, "auth-storage", `{"company_id":"c1"}`); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	v, ok, err := NewFile(path).Get(ctx, "auth-storage")
	if err != nil || !ok || v != `{"company_id":"c1"}` {
		t.Errorf("Get() after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestFile_KeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	f := NewFile(path)
	ctx := context.Background()

	_ = f.Set(ctx, "k", "v1")
	_ = f.Set(ctx, "k", "v2")

	b, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if !strings.Contains(string(b), `"v1"`) {
		t.Errorf("backup = %s, want previous version", b)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file should not remain, stat err = %v", err)
	}
}

func TestFile_ReaderNeverSeesMissingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()
	writer := NewFile(path)
	if err := writer.Set(ctx, "k", "0"); err != nil {
		t.Fatal(err)
	}

	// A second instance stands in for another process: it shares no mutex
	// with the writer and Get takes no file lock.
	reader := NewFile(path)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, ok, err := reader.Get(ctx, "k"); err != nil || !ok {
				t.Errorf("Get() during write = ok %v, err %v", ok, err)
				return
			}
		}
	}()
	for i := 1; i <= 200; i++ {
		if err := writer.Set(ctx, "k", strconv.Itoa(i)); err != nil {
			t.Fatal(err)
		}
	}
	close(done)
	wg.Wait()
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewFile(path).Get(context.Background(), "k"); err == nil {
		t.Error("expected decode error")
	}
}
