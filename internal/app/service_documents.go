package app

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe/api/internal/access"
	"scribe/api/internal/export"
	"scribe/api/internal/history"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
)

// maxContentBytes caps document content at 2 MiB.
const maxContentBytes = 2 << 20

// DocumentView is a document payload with the caller's effective permission.
type DocumentView struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	Content             string    `json:"content"`
	OwnerID             string    `json:"ownerId"`
	DriveFileID         string    `json:"driveFileId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	EffectivePermission string    `json:"effectivePermission"`
}

// DocumentSummary is one row of the dashboard listing.
type DocumentSummary struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	OwnerID             string    `json:"ownerId"`
	UpdatedAt           time.Time `json:"updatedAt"`
	EffectivePermission string    `json:"effectivePermission"`
	grantID             string
}

// DocumentListing is the owned plus shared dashboard view.
type DocumentListing struct {
	Owned  []DocumentSummary `json:"owned"`
	Shared []DocumentSummary `json:"shared"`
}

func (s *Service) CreateDocument(ctx context.Context, session Session, title, content string) (DocumentView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return DocumentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
	}
	if len(content) > maxContentBytes {
		return DocumentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "content exceeds the 2 MiB limit", nil)
	}

	doc := store.Document{
		ID:      uuid.NewString(),
		Title:   title,
		Content: &content,
		OwnerID: session.UserID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return DocumentView{}, err
	}

	if s.history != nil {
		if err := s.history.EnsureDocumentRepo(doc.ID, content, session.UserName); err != nil {
			log.Printf("history: init repo for %s: %v", doc.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{ID: doc.ID, Title: doc.Title, Content: content, OwnerID: doc.OwnerID})
	}
	s.audit(ctx, &doc.ID, session.UserID, "document.created", map[string]any{"title": doc.Title})

	stored, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return DocumentView{}, err
	}
	return documentView(stored, access.Decision{Owner: true, Level: access.LevelEdit}), nil
}

// GetDocument loads a document the caller can see. fallback carries the
// permission asserted by a verified share cookie, LevelNone when absent.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string, fallback access.Level) (DocumentView, error) {
	doc, decision, err := s.resolveAccessWith(ctx, session, documentID, access.LevelView, fallback)
	if err != nil {
		return DocumentView{}, err
	}
	return documentView(doc, decision), nil
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, title, content *string) (DocumentView, error) {
	if title == nil && content == nil {
		return DocumentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "nothing to update", nil)
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return DocumentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title cannot be empty", nil)
	}
	if content != nil && len(*content) > maxContentBytes {
		return DocumentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "content exceeds the 2 MiB limit", nil)
	}

	_, decision, err := s.resolveAccess(ctx, session, documentID, access.LevelEdit)
	if err != nil {
		return DocumentView{}, err
	}

	if err := s.store.UpdateDocument(ctx, documentID, title, content); err != nil {
		return DocumentView{}, err
	}

	updated, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}

	if content != nil && s.history != nil {
		if _, err := s.history.CommitSnapshot(documentID, *content, session.UserName, "Update document"); err != nil {
			log.Printf("history: snapshot %s: %v", documentID, err)
		}
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:      updated.ID,
			Title:   updated.Title,
			Content: derefString(updated.Content),
			OwnerID: updated.OwnerID,
		})
	}
	s.audit(ctx, &documentID, session.UserID, "document.updated", nil)

	return documentView(updated, decision), nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete a document", nil)
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	// Grant rows cascade with the document; this bounds the window when the
	// cascade is unavailable. Failure here never fails the delete.
	if err := s.store.DeleteGrantsForDocument(ctx, documentID); err != nil {
		log.Printf("share: cleanup grants for %s: %v", documentID, err)
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	s.audit(ctx, &documentID, session.UserID, "document.deleted", map[string]any{"title": doc.Title})
	return nil
}

// ListDocuments builds the dashboard: the caller's owned documents plus the
// documents shared to them, each newest first. A failure loading the shared
// side degrades to an owned-only listing rather than failing the request.
func (s *Service) ListDocuments(ctx context.Context, session Session) (DocumentListing, error) {
	owned, err := s.store.ListOwnedDocuments(ctx, session.UserID)
	if err != nil {
		return DocumentListing{}, err
	}

	listing := DocumentListing{
		Owned:  make([]DocumentSummary, 0, len(owned)),
		Shared: []DocumentSummary{},
	}
	for _, doc := range owned {
		listing.Owned = append(listing.Owned, DocumentSummary{
			ID:                  doc.ID,
			Title:               doc.Title,
			OwnerID:             doc.OwnerID,
			UpdatedAt:           doc.UpdatedAt,
			EffectivePermission: "owner",
		})
	}

	shared, err := s.listShared(ctx, session)
	if err != nil {
		log.Printf("documents: list shared for %s: %v", session.UserID, err)
	} else {
		listing.Shared = shared
	}
	return listing, nil
}

// listShared joins the caller's named-user grants to their documents. A
// grant whose document has been deleted is silently dropped.
func (s *Service) listShared(ctx context.Context, session Session) ([]DocumentSummary, error) {
	grants, err := s.store.ListGrantsByUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return []DocumentSummary{}, nil
	}

	ids := make([]string, 0, len(grants))
	for _, grant := range grants {
		ids = append(ids, grant.DocumentID)
	}
	documents, err := s.store.GetDocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Document, len(documents))
	for _, doc := range documents {
		byID[doc.ID] = doc
	}

	items := make([]DocumentSummary, 0, len(grants))
	for _, grant := range grants {
		doc, ok := byID[grant.DocumentID]
		if !ok {
			continue
		}
		if doc.OwnerID == session.UserID {
			// Stale self-grant; ownership already covers it.
			continue
		}
		items = append(items, DocumentSummary{
			ID:                  doc.ID,
			Title:               doc.Title,
			OwnerID:             doc.OwnerID,
			UpdatedAt:           doc.UpdatedAt,
			EffectivePermission: access.Parse(grant.Permission).String(),
			grantID:             grant.ID,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].grantID < items[j].grantID
	})
	return items, nil
}

// ExportDocument renders a document the caller can view.
func (s *Service) ExportDocument(ctx context.Context, session Session, documentID, format string) (*export.Result, error) {
	if format != string(export.FormatPDF) && format != string(export.FormatHTML) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "format must be pdf or html", nil)
	}
	if _, _, err := s.resolveAccess(ctx, session, documentID, access.LevelView); err != nil {
		return nil, err
	}
	result, err := s.export.Export(ctx, export.Request{DocumentID: documentID, Format: export.Format(format)})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, &documentID, session.UserID, "document.exported", map[string]any{"format": format})
	return result, nil
}

// DocumentHistory lists revisions of a document the caller can view.
func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string, limit int) ([]history.Snapshot, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History is not configured", nil)
	}
	if _, _, err := s.resolveAccess(ctx, session, documentID, access.LevelView); err != nil {
		return nil, err
	}
	return s.history.History(documentID, limit)
}

// DocumentContentAt returns the content of a past revision.
func (s *Service) DocumentContentAt(ctx context.Context, session Session, documentID, hash string) (string, error) {
	if s.history == nil {
		return "", domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History is not configured", nil)
	}
	if _, _, err := s.resolveAccess(ctx, session, documentID, access.LevelView); err != nil {
		return "", err
	}
	content, err := s.history.ContentAt(documentID, hash)
	if err != nil {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	return content, nil
}

// Search runs a query scoped to the caller's accessible documents.
func (s *Service) Search(ctx context.Context, session Session, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	listing, err := s.ListDocuments(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	ids := make([]string, 0, len(listing.Owned)+len(listing.Shared))
	for _, item := range listing.Owned {
		ids = append(ids, item.ID)
	}
	for _, item := range listing.Shared {
		ids = append(ids, item.ID)
	}
	return s.search.Search(search.Query{
		Text:          text,
		AccessibleIDs: ids,
		Limit:         limit,
		Offset:        offset,
	}), nil
}

// resolveAccess resolves the caller's effective permission on a document and
// requires at least min. A caller with no access at all gets a not-found
// error so document existence is not leaked.
func (s *Service) resolveAccess(ctx context.Context, session Session, documentID string, min access.Level) (store.Document, access.Decision, error) {
	return s.resolveAccessWith(ctx, session, documentID, min, access.LevelNone)
}

func (s *Service) resolveAccessWith(ctx context.Context, session Session, documentID string, min, fallback access.Level) (store.Document, access.Decision, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, access.Decision{}, err
	}

	grants, err := s.store.ListUserGrantsForDocument(ctx, documentID, session.UserID)
	if err != nil {
		return store.Document{}, access.Decision{}, err
	}

	decision := access.Resolve(doc.OwnerID, session.UserID, toAccessGrants(grants))
	if !decision.Owner && fallback > decision.Level {
		decision.Level = fallback
	}

	if decision.Owner {
		return doc, decision, nil
	}
	if decision.Level == access.LevelNone {
		return store.Document{}, access.Decision{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if !decision.Level.Allows(min) {
		return store.Document{}, access.Decision{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return doc, decision, nil
}

func toAccessGrants(grants []store.Grant) []access.Grant {
	out := make([]access.Grant, 0, len(grants))
	for _, grant := range grants {
		out = append(out, access.Grant{ID: grant.ID, Permission: grant.Permission})
	}
	return out
}

func documentView(doc store.Document, decision access.Decision) DocumentView {
	permission := decision.Level.String()
	if decision.Owner {
		permission = "owner"
	}
	return DocumentView{
		ID:                  doc.ID,
		Title:               doc.Title,
		Content:             derefString(doc.Content),
		OwnerID:             doc.OwnerID,
		DriveFileID:         derefString(doc.DriveFileID),
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
		EffectivePermission: permission,
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
