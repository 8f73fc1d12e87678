package imagestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/atelier/internal/model"
)

func newTestFilesystemStore(t *testing.T) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystemStore(t.TempDir(), "/media/")
	if err != nil {
		t.Fatalf("NewFilesystemStore returned error: %v", err)
	}
	return store
}

func TestFilesystemStore_SaveWritesFileUnderProjectDir(t *testing.T) {
	store := newTestFilesystemStore(t)
	ctx := context.Background()

	img, err := store.Save(ctx, "project-1", Upload{Filename: "a.png", ContentType: "image/png", Data: []byte("png-bytes")})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if !strings.HasPrefix(img.URL, "/media/project-1/") || !strings.HasSuffix(img.URL, ".png") {
		t.Errorf("URL = %q, want /media/project-1/<uuid>.png", img.URL)
	}
	if img.Data != nil {
		t.Error("filesystem images should not carry inline data")
	}

	path := filepath.Join(store.Root(), "project-1", filepath.Base(img.URL))
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}
	if string(got) != "png-bytes" {
		t.Errorf("file content = %q, want %q", got, "png-bytes")
	}
}

func TestFilesystemStore_RemoveDeletesFileAndIgnoresMissing(t *testing.T) {
	store := newTestFilesystemStore(t)
	ctx := context.Background()

	img, _ := store.Save(ctx, "project-1", Upload{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")})

	if err := store.Remove(ctx, img); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "project-1", filepath.Base(img.URL))); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat err = %v", err)
	}
	if err := store.Remove(ctx, img); err != nil {
		t.Errorf("second Remove returned error: %v", err)
	}
}

func TestFilesystemStore_RemoveIgnoresForeignAndTraversalURLs(t *testing.T) {
	store := newTestFilesystemStore(t)
	ctx := context.Background()

	outside := filepath.Join(filepath.Dir(store.Root()), "keep.txt")
	os.WriteFile(outside, []byte("keep"), 0o644)
	t.Cleanup(func() { os.Remove(outside) })

	for _, url := range []string{
		"data:image/png;base64,AA==",
		"https://cdn.example.com/a.png",
		"/media/../keep.txt",
		"/media/",
	} {
		if err := store.Remove(ctx, model.Image{URL: url}); err != nil {
			t.Errorf("Remove(%q) returned error: %v", url, err)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("file outside root must survive: %v", err)
	}
}

func TestFilesystemStore_RemoveProjectIsIdempotent(t *testing.T) {
	store := newTestFilesystemStore(t)
	ctx := context.Background()

	store.Save(ctx, "project-1", Upload{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")})
	store.Save(ctx, "project-1", Upload{Filename: "b.jpg", ContentType: "image/jpeg", Data: []byte("y")})

	if err := store.RemoveProject(ctx, "project-1"); err != nil {
		t.Fatalf("RemoveProject returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "project-1")); !os.IsNotExist(err) {
		t.Errorf("expected project dir to be removed, stat err = %v", err)
	}
	if err := store.RemoveProject(ctx, "project-1"); err != nil {
		t.Errorf("RemoveProject on missing dir returned error: %v", err)
	}
}

func TestFilesystemStore_RejectsUnsafeProjectID(t *testing.T) {
	store := newTestFilesystemStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "../escape", Upload{ContentType: "image/png", Data: []byte("x")}); err == nil {
		t.Error("expected Save to reject traversal project id")
	}
	if err := store.RemoveProject(ctx, ".."); err == nil {
		t.Error("expected RemoveProject to reject traversal project id")
	}
}
