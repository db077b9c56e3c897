package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDocumentHistoryLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc-1", "# Doc\n\nFirst draft.\n", "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	snapshot, err := svc.CommitSnapshot("doc-1", "# Doc\n\nSecond draft.\n", "Avery", "Update draft")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if snapshot.Hash == "" {
		t.Fatal("expected snapshot hash")
	}

	revisions, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revisions))
	}
	if revisions[0].Hash != snapshot.Hash {
		t.Fatalf("expected newest revision first, got %+v", revisions[0])
	}

	content, err := svc.ContentAt("doc-1", snapshot.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if content != "# Doc\n\nSecond draft.\n" {
		t.Fatalf("unexpected content: %q", content)
	}

	head, headSnapshot, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head != content || headSnapshot.Hash != snapshot.Hash {
		t.Fatalf("unexpected head: %q %+v", head, headSnapshot)
	}
}

func TestEnsureDocumentRepoIsIdempotent(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc-1", "first\n", "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if err := svc.EnsureDocumentRepo("doc-1", "second\n", "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() second call error = %v", err)
	}

	head, _, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head != "first\n" {
		t.Fatalf("second ensure must not overwrite, got %q", head)
	}
}

func TestConcurrentCommitSnapshot(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc-1", "initial\n", "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := fmt.Sprintf("draft-%02d\n", idx)
			if _, err := svc.CommitSnapshot("doc-1", content, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	revisions, err := svc.History("doc-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(revisions) < writers+1 {
		t.Fatalf("expected at least %d revisions, got %d", writers+1, len(revisions))
	}

	head, _, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if !strings.HasPrefix(head, "draft-") {
		t.Fatalf("unexpected head content after concurrent commits: %q", head)
	}
}
