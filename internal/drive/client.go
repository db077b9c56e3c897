package drive

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// File is an imported Drive document.
type File struct {
	ID           string
	Name         string
	Markdown     string
	ModifiedTime time.Time
}

// Importer fetches Google Docs as markdown.
type Importer struct {
	service *gdrive.Service
}

// NewImporter creates a Drive client authenticated with the given token.
func NewImporter(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*Importer, error) {
	if token == nil {
		return nil, fmt.Errorf("token cannot be nil")
	}

	client := config.Client(ctx, token)
	service, err := gdrive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Importer{service: service}, nil
}

// Fetch downloads a Drive file as markdown along with its metadata.
func (i *Importer) Fetch(ctx context.Context, fileID string) (File, error) {
	meta, err := i.service.Files.Get(fileID).
		Fields("id", "name", "mimeType", "modifiedTime").
		Context(ctx).
		Do()
	if err != nil {
		return File{}, fmt.Errorf("get drive file %s: %w", fileID, err)
	}

	markdown, err := i.exportMarkdown(ctx, fileID)
	if err != nil {
		return File{}, err
	}

	modified, err := time.Parse(time.RFC3339, meta.ModifiedTime)
	if err != nil {
		modified = time.Time{}
	}

	return File{
		ID:           meta.Id,
		Name:         meta.Name,
		Markdown:     markdown,
		ModifiedTime: modified,
	}, nil
}

// exportMarkdown asks Drive for a markdown rendition, falling back to plain
// text for files that cannot be exported as markdown.
func (i *Importer) exportMarkdown(ctx context.Context, fileID string) (string, error) {
	resp, err := i.service.Files.Export(fileID, "text/markdown").Context(ctx).Download()
	if err != nil {
		resp, err = i.service.Files.Export(fileID, "text/plain").Context(ctx).Download()
		if err != nil {
			return "", fmt.Errorf("export drive file %s: %w", fileID, err)
		}
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read drive export: %w", err)
	}
	return string(content), nil
}
