package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"caschost-go/internal/host"
)

func TestTranslator_Feed(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   []fsnotify.Event
		want []host.RawEvent
	}{
		{
			name: "write is modified",
			in:   []fsnotify.Event{{Name: "/src/a.m2", Op: fsnotify.Write}},
			want: []host.RawEvent{{Op: host.Modified, Path: "/src/a.m2"}},
		},
		{
			name: "create is created",
			in:   []fsnotify.Event{{Name: "/src/a.m2", Op: fsnotify.Create}},
			want: []host.RawEvent{{Op: host.Created, Path: "/src/a.m2"}},
		},
		{
			name: "remove is deleted",
			in:   []fsnotify.Event{{Name: "/src/a.m2", Op: fsnotify.Remove}},
			want: []host.RawEvent{{Op: host.Deleted, Path: "/src/a.m2"}},
		},
		{
			name: "chmod is ignored",
			in:   []fsnotify.Event{{Name: "/src/a.m2", Op: fsnotify.Chmod}},
			want: nil,
		},
		{
			name: "rename then create pairs",
			in: []fsnotify.Event{
				{Name: "/src/a.m2", Op: fsnotify.Rename},
				{Name: "/src/b.m2", Op: fsnotify.Create},
			},
			want: []host.RawEvent{{Op: host.Renamed, Path: "/src/b.m2", OldPath: "/src/a.m2"}},
		},
		{
			name: "rename then write is delete then modify",
			in: []fsnotify.Event{
				{Name: "/src/a.m2", Op: fsnotify.Rename},
				{Name: "/src/c.m2", Op: fsnotify.Write},
			},
			want: []host.RawEvent{
				{Op: host.Deleted, Path: "/src/a.m2"},
				{Op: host.Modified, Path: "/src/c.m2"},
			},
		},
		{
			name: "chmod does not break a pending rename",
			in: []fsnotify.Event{
				{Name: "/src/a.m2", Op: fsnotify.Rename},
				{Name: "/src/a.m2", Op: fsnotify.Chmod},
				{Name: "/src/b.m2", Op: fsnotify.Create},
			},
			want: []host.RawEvent{{Op: host.Renamed, Path: "/src/b.m2", OldPath: "/src/a.m2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &translator{window: time.Second}
			var got []host.RawEvent
			for _, ev := range tt.in {
				got = append(got, tr.feed(ev, now)...)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events %v, want %d %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTranslator_Flush(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("unpaired rename becomes delete after window", func(t *testing.T) {
		tr := &translator{window: time.Second}
		tr.feed(fsnotify.Event{Name: "/src/a.m2", Op: fsnotify.Rename}, start)

		if got := tr.flush(start.Add(500 * time.Millisecond)); got != nil {
			t.Fatalf("flush() before window = %v, want nil", got)
		}
		got := tr.flush(start.Add(time.Second))
		if len(got) != 1 || got[0].Op != host.Deleted || got[0].Path != "/src/a.m2" {
			t.Fatalf("flush() = %v, want one delete of /src/a.m2", got)
		}
		if tr.waiting() {
			t.Error("translator still waiting after flush")
		}
	})

	t.Run("late create is not paired", func(t *testing.T) {
		tr := &translator{window: time.Second}
		tr.feed(fsnotify.Event{Name: "/src/a.m2", Op: fsnotify.Rename}, start)

		got := tr.feed(fsnotify.Event{Name: "/src/b.m2", Op: fsnotify.Create}, start.Add(2*time.Second))
		if len(got) != 2 || got[0].Op != host.Deleted || got[1].Op != host.Created {
			t.Fatalf("feed() = %v, want delete then create", got)
		}
	})
}

func waitEvent(t *testing.T, ch <-chan host.RawEvent, match func(host.RawEvent) bool) host.RawEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func startWatcher(t *testing.T, opts WatcherOptions) *Watcher {
	t.Helper()
	w, err := NewWatcher(opts)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return w
}

func TestWatcher_Run(t *testing.T) {
	t.Run("reports file writes", func(t *testing.T) {
		root := t.TempDir()
		w := startWatcher(t, WatcherOptions{Root: root, Recursive: true, PairWindow: 50 * time.Millisecond})

		path := filepath.Join(root, "a.m2")
		if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
			t.Fatalf("writing file: %v", err)
		}

		waitEvent(t, w.Events(), func(ev host.RawEvent) bool { return ev.Path == path })
	})

	t.Run("synthesizes creates for files in a new directory", func(t *testing.T) {
		root := t.TempDir()
		staging := t.TempDir()
		if err := os.MkdirAll(filepath.Join(staging, "World"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(staging, "World", "tree.m2"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		w := startWatcher(t, WatcherOptions{Root: root, Recursive: true, PairWindow: 50 * time.Millisecond})

		if err := os.Rename(filepath.Join(staging, "World"), filepath.Join(root, "World")); err != nil {
			t.Fatalf("moving directory in: %v", err)
		}

		want := filepath.Join(root, "World", "tree.m2")
		waitEvent(t, w.Events(), func(ev host.RawEvent) bool { return ev.Path == want && ev.Op == host.Created })
	})

	t.Run("drops ignored paths", func(t *testing.T) {
		root := t.TempDir()
		w := startWatcher(t, WatcherOptions{
			Root:       root,
			Recursive:  true,
			Ignore:     NewMatcher([]string{"*.bak"}),
			PairWindow: 50 * time.Millisecond,
		})

		if err := os.WriteFile(filepath.Join(root, "a.bak"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		keep := filepath.Join(root, "b.m2")
		if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}

		ev := waitEvent(t, w.Events(), func(ev host.RawEvent) bool { return true })
		if ev.Path != keep {
			t.Errorf("first event path = %s, want %s", ev.Path, keep)
		}
	})
}
