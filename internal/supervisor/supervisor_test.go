package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkoru/multifetch/internal/protocol"
	"github.com/mkoru/multifetch/internal/registry"
	"github.com/mkoru/multifetch/internal/store"
)

func newTestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))

		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(body))
			return
		}

		var start, end int
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		if end >= len(body) {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body[start : end+1]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSupervisor(t *testing.T, numChunks int) (*Supervisor, string, int, int) {
	t.Helper()
	dir := t.TempDir()
	client := protocol.NewHTTPClient()

	var persistCount, scheduleCount int
	hooks := Hooks{
		Persist:  func() { persistCount++ },
		Schedule: func() { scheduleCount++ },
	}

	reg := registry.New(registry.NewEventHub())
	sup := New(reg, client, dir, dir, numChunks, hooks)
	return sup, dir, persistCount, scheduleCount
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPlanRegistersQueuedEntry(t *testing.T) {
	body := "0123456789ABCDEF"
	srv := newTestServer(t, body)

	sup, _, _, _ := newTestSupervisor(t, 4)

	entry, err := sup.Plan(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if entry.Status != registry.StatusQueued {
		t.Errorf("Status = %v, want queued", entry.Status)
	}
	if entry.TotalSize != int64(len(body)) {
		t.Errorf("TotalSize = %d, want %d", entry.TotalSize, len(body))
	}
	if len(entry.Chunks) != 4 {
		t.Errorf("len(Chunks) = %d, want 4", len(entry.Chunks))
	}
	if _, err := os.Stat(entry.TempDir); err != nil {
		t.Errorf("tempDir not created: %v", err)
	}
}

func TestPlanRejectsUnrangedOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sup, _, _, _ := newTestSupervisor(t, 4)

	if _, err := sup.Plan(context.Background(), srv.URL); err == nil {
		t.Fatal("Plan() should fail when origin does not advertise Accept-Ranges")
	}
}

func TestStartDownloadsAndAssembles(t *testing.T) {
	body := "0123456789ABCDEFGHIJ" // 20 bytes
	srv := newTestServer(t, body)

	sup, _, _, _ := newTestSupervisor(t, 4)

	entry, err := sup.Plan(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	sup.Start(entry)

	waitFor(t, 2*time.Second, func() bool {
		return entry.Snapshot().Status == registry.StatusComplete
	})

	content, err := os.ReadFile(entry.Snapshot().FinalPath)
	if err != nil {
		t.Fatalf("ReadFile(final) error = %v", err)
	}
	if string(content) != body {
		t.Errorf("final content = %q, want %q", content, body)
	}
}

func TestPauseCancelsActiveStreamsAndMarksPaused(t *testing.T) {
	blockCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "20")

		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.Header().Set("Content-Range", "bytes 0-19/20")
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("01234"))
		if flusher != nil {
			flusher.Flush()
		}
		<-blockCh
		w.Write([]byte("56789ABCDEFGHIJKLMN"))
	}))
	t.Cleanup(func() {
		close(blockCh)
		srv.Close()
	})

	sup, _, _, _ := newTestSupervisor(t, 1)

	entry, err := sup.Plan(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	sup.Start(entry)

	waitFor(t, time.Second, func() bool {
		return entry.Snapshot().Chunks[0].Downloaded > 0
	})

	sup.Pause(entry)

	waitFor(t, time.Second, func() bool {
		return entry.Snapshot().Status == registry.StatusPaused
	})

	snap := entry.Snapshot()
	if snap.Chunks[0].Status != registry.ChunkPaused && snap.Chunks[0].Status != registry.ChunkComplete {
		t.Errorf("chunk status = %v, want paused (or already complete)", snap.Chunks[0].Status)
	}
}

func TestFailedChunkMarksEntryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "20")

		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		http.Error(w, "server exploded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	sup, _, _, _ := newTestSupervisor(t, 1)

	entry, err := sup.Plan(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	sup.Start(entry)

	waitFor(t, time.Second, func() bool {
		return entry.Snapshot().Status == registry.StatusError
	})

	if got := entry.Snapshot().Error; !strings.Contains(got, "Chunk 0") {
		t.Errorf("Error = %q, want it to contain %q", got, "Chunk 0")
	}
}

func TestResumeFromCompleteReplansChunks(t *testing.T) {
	body := "0123456789ABCDEFGHIJ"
	srv := newTestServer(t, body)

	sup, _, _, _ := newTestSupervisor(t, 4)

	entry, err := sup.Plan(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	sup.Start(entry)
	waitFor(t, 2*time.Second, func() bool {
		return entry.Snapshot().Status == registry.StatusComplete
	})

	if err := sup.Resume(entry); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	snap := entry.Snapshot()
	if snap.Status != registry.StatusQueued {
		t.Errorf("Status = %v, want queued", snap.Status)
	}
	if snap.TempDir == "" {
		t.Error("TempDir should be recreated on resume-from-complete")
	}
	if _, err := os.Stat(snap.TempDir); err != nil {
		t.Errorf("resumed temp dir not created: %v", err)
	}
	for _, c := range snap.Chunks {
		if c.Status != registry.ChunkPending {
			t.Errorf("chunk %d status = %v, want pending after replan", c.ID, c.Status)
		}
	}
}

func TestPartFilePathMatchesStoreConvention(t *testing.T) {
	dir := t.TempDir()
	got := store.PartFilePath(dir, 2)
	want := filepath.Join(dir, "part_2")
	if got != want {
		t.Errorf("PartFilePath() = %q, want %q", got, want)
	}
}
