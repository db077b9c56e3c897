package drive

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Change is a single span of a refresh preview.
type Change struct {
	Kind string `json:"kind"` // "equal", "insert", "delete"
	Text string `json:"text"`
}

// Preview summarizes the difference between the stored content and the
// upstream Drive content.
type Preview struct {
	Changed      bool     `json:"changed"`
	AddedChars   int      `json:"addedChars"`
	RemovedChars int      `json:"removedChars"`
	Changes      []Change `json:"changes"`
}

// maxContextChars caps the equal spans carried into the preview so a small
// edit in a large document does not return the whole document.
const maxContextChars = 80

// DiffPreview computes a compact line-oriented preview of what a refresh
// would change.
func DiffPreview(current, upstream string) Preview {
	if current == upstream {
		return Preview{Changed: false, Changes: []Change{}}
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(current, upstream, true)
	dmp.DiffCleanupSemantic(diffs)

	preview := Preview{Changed: true, Changes: make([]Change, 0, len(diffs))}
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			preview.AddedChars += len(d.Text)
			preview.Changes = append(preview.Changes, Change{Kind: "insert", Text: d.Text})
		case diffmatchpatch.DiffDelete:
			preview.RemovedChars += len(d.Text)
			preview.Changes = append(preview.Changes, Change{Kind: "delete", Text: d.Text})
		case diffmatchpatch.DiffEqual:
			preview.Changes = append(preview.Changes, Change{Kind: "equal", Text: clipContext(d.Text)})
		}
	}
	return preview
}

func clipContext(text string) string {
	if len(text) <= maxContextChars {
		return text
	}
	head := text[:maxContextChars/2]
	tail := text[len(text)-maxContextChars/2:]
	return strings.Join([]string{head, tail}, "…")
}
