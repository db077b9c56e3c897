package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"scribe/api/internal/access"
	"scribe/api/internal/store"
)

func TestCreateDocumentValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	session := testSession("u1", "u1@example.com")

	if _, err := svc.CreateDocument(context.Background(), session, "   ", "body"); err == nil {
		t.Error("expected blank title to be rejected")
	}

	huge := strings.Repeat("a", maxContentBytes+1)
	if _, err := svc.CreateDocument(context.Background(), session, "Title", huge); err == nil {
		t.Error("expected oversized content to be rejected")
	}
}

func TestCreateDocumentReturnsOwnerView(t *testing.T) {
	var inserted store.Document
	data := &fakeStore{
		insertDocumentFn: func(_ context.Context, item store.Document) error {
			inserted = item
			return nil
		},
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			if documentID != inserted.ID {
				return store.Document{}, sql.ErrNoRows
			}
			return inserted, nil
		},
	}
	svc := newTestService(data)

	view, err := svc.CreateDocument(context.Background(), testSession("u1", "u1@example.com"), "Plan", "# Plan")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if view.OwnerID != "u1" {
		t.Errorf("OwnerID = %q, want u1", view.OwnerID)
	}
	if view.EffectivePermission != "owner" {
		t.Errorf("EffectivePermission = %q, want owner", view.EffectivePermission)
	}
	if view.Content != "# Plan" {
		t.Errorf("Content = %q", view.Content)
	}
}

func docFixture(id, owner string, updated time.Time) store.Document {
	content := "content of " + id
	return store.Document{ID: id, Title: "Doc " + id, Content: &content, OwnerID: owner, UpdatedAt: updated}
}

func TestResolveAccess(t *testing.T) {
	docID := "doc-1"
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	data := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			if documentID != docID {
				return store.Document{}, sql.ErrNoRows
			}
			return docFixture(docID, "owner-1", base), nil
		},
		listUserGrantsForDocumentFn: func(_ context.Context, _, userID string) ([]store.Grant, error) {
			if userID == "viewer-1" {
				return []store.Grant{{ID: "g1", DocumentID: docID, Permission: "view"}}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(data)

	// Owner bypasses the grant table entirely.
	view, err := svc.GetDocument(context.Background(), testSession("owner-1", "o@example.com"), docID, access.LevelNone)
	if err != nil {
		t.Fatalf("owner GetDocument: %v", err)
	}
	if view.EffectivePermission != "owner" {
		t.Errorf("owner EffectivePermission = %q", view.EffectivePermission)
	}

	// A view grant reads but cannot write.
	view, err = svc.GetDocument(context.Background(), testSession("viewer-1", "v@example.com"), docID, access.LevelNone)
	if err != nil {
		t.Fatalf("viewer GetDocument: %v", err)
	}
	if view.EffectivePermission != "view" {
		t.Errorf("viewer EffectivePermission = %q", view.EffectivePermission)
	}
	_, err = svc.UpdateDocument(context.Background(), testSession("viewer-1", "v@example.com"), docID, nil, strPtr("new"))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Errorf("viewer update error = %v, want 403", err)
	}

	// No access at all reads as not-found so existence is not leaked.
	_, err = svc.GetDocument(context.Background(), testSession("stranger", "s@example.com"), docID, access.LevelNone)
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Errorf("stranger error = %v, want 404", err)
	}
}

func TestGetDocumentHonorsFallbackLevel(t *testing.T) {
	docID := "doc-1"
	data := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return docFixture(docID, "owner-1", time.Now()), nil
		},
	}
	svc := newTestService(data)

	// A stranger with a verified share cookie gets the cookie's level.
	view, err := svc.GetDocument(context.Background(), testSession("stranger", "s@example.com"), docID, access.LevelComment)
	if err != nil {
		t.Fatalf("GetDocument with fallback: %v", err)
	}
	if view.EffectivePermission != "comment" {
		t.Errorf("EffectivePermission = %q, want comment", view.EffectivePermission)
	}
}

func TestDeleteDocumentOwnerOnly(t *testing.T) {
	docID := "doc-1"
	data := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return docFixture(docID, "owner-1", time.Now()), nil
		},
	}
	svc := newTestService(data)

	err := svc.DeleteDocument(context.Background(), testSession("editor-1", "e@example.com"), docID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Errorf("non-owner delete error = %v, want 403", err)
	}

	if err := svc.DeleteDocument(context.Background(), testSession("owner-1", "o@example.com"), docID); err != nil {
		t.Errorf("owner delete: %v", err)
	}
}

func TestListDocumentsOwnedAndShared(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	data := &fakeStore{
		listOwnedDocumentsFn: func(_ context.Context, ownerID string) ([]store.Document, error) {
			return []store.Document{docFixture("own-1", ownerID, base.Add(3 * time.Hour))}, nil
		},
		listGrantsByUserFn: func(_ context.Context, userID string) ([]store.Grant, error) {
			return []store.Grant{
				{ID: "g1", DocumentID: "shared-old", Permission: "edit"},
				{ID: "g2", DocumentID: "shared-new", Permission: "view"},
				{ID: "g3", DocumentID: "orphan-1", Permission: "view"},
			}, nil
		},
		getDocumentsByIDsFn: func(_ context.Context, ids []string) ([]store.Document, error) {
			// orphan-1 was deleted; only the live documents come back.
			return []store.Document{
				docFixture("shared-old", "other-owner", base),
				docFixture("shared-new", "other-owner", base.Add(2*time.Hour)),
			}, nil
		},
	}
	svc := newTestService(data)

	listing, err := svc.ListDocuments(context.Background(), testSession("u1", "u1@example.com"))
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}

	if len(listing.Owned) != 1 || listing.Owned[0].ID != "own-1" {
		t.Fatalf("owned = %+v, want [own-1]", listing.Owned)
	}
	if listing.Owned[0].EffectivePermission != "owner" {
		t.Errorf("owned permission = %q, want owner", listing.Owned[0].EffectivePermission)
	}

	wantShared := []string{"shared-new", "shared-old"}
	if len(listing.Shared) != len(wantShared) {
		t.Fatalf("got %d shared items, want %d", len(listing.Shared), len(wantShared))
	}
	for i, want := range wantShared {
		if listing.Shared[i].ID != want {
			t.Errorf("shared[%d].ID = %q, want %q", i, listing.Shared[i].ID, want)
		}
	}
	if listing.Shared[1].EffectivePermission != "edit" {
		t.Errorf("shared-old permission = %q, want edit", listing.Shared[1].EffectivePermission)
	}
}

func TestListSharedBreaksTiesByGrantID(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	data := &fakeStore{
		listGrantsByUserFn: func(_ context.Context, userID string) ([]store.Grant, error) {
			return []store.Grant{
				{ID: "g2", DocumentID: "doc-b", Permission: "view"},
				{ID: "g1", DocumentID: "doc-a", Permission: "view"},
			}, nil
		},
		getDocumentsByIDsFn: func(_ context.Context, ids []string) ([]store.Document, error) {
			return []store.Document{
				docFixture("doc-a", "other", base),
				docFixture("doc-b", "other", base),
			}, nil
		},
	}
	svc := newTestService(data)

	listing, err := svc.ListDocuments(context.Background(), testSession("u1", "u1@example.com"))
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(listing.Shared) != 2 || listing.Shared[0].ID != "doc-a" || listing.Shared[1].ID != "doc-b" {
		t.Fatalf("shared = %+v, want [doc-a doc-b]", listing.Shared)
	}
}

func TestListDocumentsSkipsSelfGrant(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	data := &fakeStore{
		listOwnedDocumentsFn: func(_ context.Context, ownerID string) ([]store.Document, error) {
			return []store.Document{docFixture("own-1", ownerID, base)}, nil
		},
		listGrantsByUserFn: func(_ context.Context, userID string) ([]store.Grant, error) {
			return []store.Grant{{ID: "g1", DocumentID: "own-1", Permission: "view"}}, nil
		},
		getDocumentsByIDsFn: func(_ context.Context, ids []string) ([]store.Document, error) {
			return []store.Document{docFixture("own-1", "u1", base)}, nil
		},
	}
	svc := newTestService(data)

	listing, err := svc.ListDocuments(context.Background(), testSession("u1", "u1@example.com"))
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(listing.Owned) != 1 {
		t.Fatalf("got %d owned items, want 1", len(listing.Owned))
	}
	if len(listing.Shared) != 0 {
		t.Errorf("owned document must not appear as shared: %+v", listing.Shared)
	}
}

func TestListDocumentsDegradesWhenSharedSideFails(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	data := &fakeStore{
		listOwnedDocumentsFn: func(_ context.Context, ownerID string) ([]store.Document, error) {
			return []store.Document{docFixture("own-1", ownerID, base)}, nil
		},
		listGrantsByUserFn: func(_ context.Context, userID string) ([]store.Grant, error) {
			return nil, errors.New("grants table unavailable")
		},
	}
	svc := newTestService(data)

	listing, err := svc.ListDocuments(context.Background(), testSession("u1", "u1@example.com"))
	if err != nil {
		t.Fatalf("ListDocuments should degrade, got error: %v", err)
	}
	if len(listing.Owned) != 1 || listing.Owned[0].ID != "own-1" {
		t.Fatalf("expected the owned side to survive, got %+v", listing.Owned)
	}
	if listing.Shared == nil || len(listing.Shared) != 0 {
		t.Fatalf("expected an empty shared list, got %+v", listing.Shared)
	}
}

func TestUpdateDocumentValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	session := testSession("u1", "u1@example.com")

	if _, err := svc.UpdateDocument(context.Background(), session, "doc-1", nil, nil); err == nil {
		t.Error("expected empty update to be rejected")
	}
	if _, err := svc.UpdateDocument(context.Background(), session, "doc-1", strPtr("  "), nil); err == nil {
		t.Error("expected blank title to be rejected")
	}
	huge := strings.Repeat("a", maxContentBytes+1)
	if _, err := svc.UpdateDocument(context.Background(), session, "doc-1", nil, &huge); err == nil {
		t.Error("expected oversized content to be rejected")
	}
}

func TestExportDocumentRejectsUnknownFormat(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.ExportDocument(context.Background(), testSession("u1", "u1@example.com"), "doc-1", "docx")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}
