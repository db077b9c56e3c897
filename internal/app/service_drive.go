package app

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"scribe/api/internal/access"
	"scribe/api/internal/drive"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
)

// DriveRefresh is the result of comparing a linked document with its
// upstream Drive file, and of applying the upstream content when asked.
type DriveRefresh struct {
	DocumentID string        `json:"documentId"`
	FileID     string        `json:"fileId"`
	FileName   string        `json:"fileName"`
	Applied    bool          `json:"applied"`
	Preview    drive.Preview `json:"preview"`
}

// ImportDriveFile pulls a Drive file as markdown and creates a new document
// owned by the caller, linked back to the source file.
func (s *Service) ImportDriveFile(ctx context.Context, session Session, token *oauth2.Token, fileID string) (DocumentView, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return DocumentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "fileId is required", nil)
	}
	fetcher, err := s.driveClient(ctx, token)
	if err != nil {
		return DocumentView{}, err
	}

	file, err := fetcher.Fetch(ctx, fileID)
	if err != nil {
		return DocumentView{}, domainError(http.StatusBadGateway, "DRIVE_ERROR", "Could not fetch the Drive file", map[string]any{"fileId": fileID})
	}
	if len(file.Markdown) > maxContentBytes {
		return DocumentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "content exceeds the 2 MiB limit", nil)
	}

	title := strings.TrimSpace(file.Name)
	if title == "" {
		title = "Imported document"
	}
	doc := store.Document{
		ID:          uuid.NewString(),
		Title:       title,
		Content:     &file.Markdown,
		OwnerID:     session.UserID,
		DriveFileID: &file.ID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return DocumentView{}, err
	}

	if s.history != nil {
		if err := s.history.EnsureDocumentRepo(doc.ID, file.Markdown, session.UserName); err != nil {
			log.Printf("history: init repo for %s: %v", doc.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{ID: doc.ID, Title: doc.Title, Content: file.Markdown, OwnerID: doc.OwnerID})
	}
	s.audit(ctx, &doc.ID, session.UserID, "drive.imported", map[string]any{"fileId": file.ID, "title": doc.Title})

	stored, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return DocumentView{}, err
	}
	return documentView(stored, access.Decision{Owner: true, Level: access.LevelEdit}), nil
}

// RefreshDriveDocument re-fetches the upstream Drive file behind a linked
// document and reports the differences. With apply set, the upstream content
// replaces the document content.
func (s *Service) RefreshDriveDocument(ctx context.Context, session Session, documentID string, token *oauth2.Token, apply bool) (DriveRefresh, error) {
	doc, _, err := s.resolveAccess(ctx, session, documentID, access.LevelEdit)
	if err != nil {
		return DriveRefresh{}, err
	}
	if doc.DriveFileID == nil || *doc.DriveFileID == "" {
		return DriveRefresh{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Document is not linked to a Drive file", nil)
	}

	fetcher, err := s.driveClient(ctx, token)
	if err != nil {
		return DriveRefresh{}, err
	}
	file, err := fetcher.Fetch(ctx, *doc.DriveFileID)
	if err != nil {
		return DriveRefresh{}, domainError(http.StatusBadGateway, "DRIVE_ERROR", "Could not fetch the Drive file", map[string]any{"fileId": *doc.DriveFileID})
	}
	if len(file.Markdown) > maxContentBytes {
		return DriveRefresh{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "content exceeds the 2 MiB limit", nil)
	}

	preview := drive.DiffPreview(derefString(doc.Content), file.Markdown)
	result := DriveRefresh{
		DocumentID: doc.ID,
		FileID:     file.ID,
		FileName:   file.Name,
		Preview:    preview,
	}
	if !apply || !preview.Changed {
		return result, nil
	}

	if err := s.store.UpdateDocument(ctx, documentID, nil, &file.Markdown); err != nil {
		return DriveRefresh{}, err
	}
	if s.history != nil {
		if _, err := s.history.CommitSnapshot(documentID, file.Markdown, session.UserName, "Sync from Drive"); err != nil {
			log.Printf("history: snapshot %s: %v", documentID, err)
		}
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{ID: doc.ID, Title: doc.Title, Content: file.Markdown, OwnerID: doc.OwnerID})
	}
	s.audit(ctx, &documentID, session.UserID, "drive.refreshed", map[string]any{"fileId": file.ID})

	result.Applied = true
	return result, nil
}

func (s *Service) driveClient(ctx context.Context, token *oauth2.Token) (driveFetcher, error) {
	if !s.DriveConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "DRIVE_UNAVAILABLE", "Drive import is not configured", nil)
	}
	if token == nil || token.AccessToken == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "A Drive access token is required", nil)
	}
	fetcher, err := s.newDrive(ctx, token)
	if err != nil {
		return nil, err
	}
	return fetcher, nil
}
