package app

import (
	"context"
	crand "crypto/rand"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe/api/internal/access"
	"scribe/api/internal/auth"
	"scribe/api/internal/store"
)

// Redemption outcomes.
const (
	RedeemAlreadyHasAccess    = "alreadyHasAccess"
	RedeemGranted             = "granted"
	RedeemGrantedWithFallback = "grantedWithFallback"
)

// fallbackCookieTTL is how long a share fallback cookie stays valid.
const fallbackCookieTTL = 30 * 24 * time.Hour

// ShareInput describes a new grant on a document.
type ShareInput struct {
	Type         string `json:"type"` // "user" or "link"
	Email        string `json:"email"`
	InvitedEmail string `json:"invitedEmail"`
	Permission   string `json:"permission"`
}

// ShareView is one grant as returned to the owner.
type ShareView struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Email        string    `json:"email,omitempty"`
	InvitedEmail string    `json:"invitedEmail,omitempty"`
	Token        string    `json:"token,omitempty"`
	Permission   string    `json:"permission"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Redemption is the result of redeeming a share link.
type Redemption struct {
	Outcome    string `json:"outcome"`
	DocumentID string `json:"documentId"`
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
	Persisted  bool   `json:"persisted"`

	// fallbackCookie carries the signed documentId|token binding; the HTTP
	// layer turns it into a cookie so reads can fall back to token access
	// while the grant row is missing or not yet visible.
	fallbackCookie string
}

// FallbackCookie returns the signed cookie value for a successful
// redemption, empty otherwise.
func (r Redemption) FallbackCookie() string {
	return r.fallbackCookie
}

// CreateShare adds a grant to a document. Only the owner can share.
func (s *Service) CreateShare(ctx context.Context, session Session, documentID string, input ShareInput) (ShareView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return ShareView{}, err
	}
	if doc.OwnerID != session.UserID {
		return ShareView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can share a document", nil)
	}
	if !access.Valid(input.Permission) {
		return ShareView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "permission must be view, comment, or edit", nil)
	}

	switch input.Type {
	case "user":
		return s.createUserShare(ctx, session, doc, input)
	case "link":
		return s.createLinkShare(ctx, session, doc, input)
	default:
		return ShareView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "type must be user or link", nil)
	}
}

func (s *Service) createUserShare(ctx context.Context, session Session, doc store.Document, input ShareInput) (ShareView, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" {
		return ShareView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "email is required for a user share", nil)
	}
	target, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ShareView{}, domainError(http.StatusNotFound, "NOT_FOUND", "No account with that email", nil)
		}
		return ShareView{}, err
	}
	if target.ID == doc.OwnerID {
		return ShareView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "The owner already has full access", nil)
	}

	// Reuse the existing grant row when one exists for this user.
	existing, err := s.store.ListUserGrantsForDocument(ctx, doc.ID, target.ID)
	if err != nil {
		return ShareView{}, err
	}
	if len(existing) > 0 {
		grant := strongestGrant(existing)
		if err := s.store.UpdateGrantPermission(ctx, grant.ID, input.Permission); err != nil {
			return ShareView{}, err
		}
		s.audit(ctx, &doc.ID, session.UserID, "share.updated", map[string]any{"grantId": grant.ID, "permission": input.Permission})
		return ShareView{
			ID:         grant.ID,
			Type:       "user",
			Email:      target.Email,
			Permission: input.Permission,
			CreatedAt:  grant.CreatedAt,
		}, nil
	}

	grant := store.Grant{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		UserID:     &target.ID,
		Permission: input.Permission,
	}
	if err := s.store.InsertGrant(ctx, grant); err != nil {
		return ShareView{}, err
	}
	s.audit(ctx, &doc.ID, session.UserID, "share.created", map[string]any{"grantId": grant.ID, "permission": input.Permission})
	return ShareView{
		ID:         grant.ID,
		Type:       "user",
		Email:      target.Email,
		Permission: input.Permission,
		CreatedAt:  time.Now(),
	}, nil
}

func (s *Service) createLinkShare(ctx context.Context, session Session, doc store.Document, input ShareInput) (ShareView, error) {
	token := generateSecureToken(32)
	grant := store.Grant{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Token:      &token,
		Permission: input.Permission,
	}
	invited := strings.TrimSpace(strings.ToLower(input.InvitedEmail))
	if invited != "" {
		grant.InvitedEmail = &invited
	}
	if err := s.store.InsertGrant(ctx, grant); err != nil {
		return ShareView{}, err
	}
	s.audit(ctx, &doc.ID, session.UserID, "share.link_created", map[string]any{"grantId": grant.ID, "permission": input.Permission})
	return ShareView{
		ID:           grant.ID,
		Type:         "link",
		InvitedEmail: invited,
		Token:        token,
		Permission:   input.Permission,
		CreatedAt:    time.Now(),
	}, nil
}

// ListShares returns every grant on a document. Only the owner may list.
func (s *Service) ListShares(ctx context.Context, session Session, documentID string) ([]ShareView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can list shares", nil)
	}

	grants, err := s.store.ListGrantsForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]ShareView, 0, len(grants))
	for _, grant := range grants {
		view := ShareView{
			ID:         grant.ID,
			Permission: grant.Permission,
			CreatedAt:  grant.CreatedAt,
		}
		if grant.UserID != nil {
			view.Type = "user"
			if user, err := s.store.GetUserByID(ctx, *grant.UserID); err == nil {
				view.Email = user.Email
			}
		} else {
			view.Type = "link"
			view.Token = derefString(grant.Token)
			view.InvitedEmail = derefString(grant.InvitedEmail)
		}
		items = append(items, view)
	}
	return items, nil
}

// DeleteShare revokes a grant. Only the owner may revoke.
func (s *Service) DeleteShare(ctx context.Context, session Session, documentID, grantID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can revoke shares", nil)
	}
	if err := s.store.DeleteGrant(ctx, documentID, grantID); err != nil {
		return err
	}
	s.audit(ctx, &documentID, session.UserID, "share.revoked", map[string]any{"grantId": grantID})
	return nil
}

// RedeemShareToken turns a share link into durable access for the caller.
//
// The token is matched exactly. A token bound to an invited email is only
// redeemable by a session with that email. Redemption never downgrades: an
// existing grant is upgraded when the token outranks it and left alone
// otherwise. When the grant row cannot be written the caller still gets
// access via the signed fallback cookie, and the response reports
// persisted=false so the failure is visible to monitoring.
func (s *Service) RedeemShareToken(ctx context.Context, session Session, token string) (Redemption, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Redemption{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "token is required", nil)
	}

	grant, err := s.store.GetGrantByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Redemption{}, domainError(http.StatusNotFound, "NOT_FOUND", "Share link not found", nil)
		}
		return Redemption{}, err
	}

	doc, err := s.store.GetDocument(ctx, grant.DocumentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The document behind the link is gone; the link is dead.
			return Redemption{}, domainError(http.StatusNotFound, "NOT_FOUND", "Share link not found", nil)
		}
		return Redemption{}, err
	}

	if grant.InvitedEmail != nil && !strings.EqualFold(*grant.InvitedEmail, session.Email) {
		return Redemption{}, domainError(http.StatusForbidden, "EMAIL_MISMATCH", "This link was issued for a different account", nil)
	}

	level := access.Parse(grant.Permission)

	if doc.OwnerID == session.UserID {
		return Redemption{
			Outcome:    RedeemAlreadyHasAccess,
			DocumentID: doc.ID,
			Permission: "owner",
			Granted:    true,
			Persisted:  true,
		}, nil
	}

	existing, err := s.store.ListUserGrantsForDocument(ctx, doc.ID, session.UserID)
	if err != nil {
		return Redemption{}, err
	}
	cookie := auth.SignValue([]byte(s.cfg.JWTSecret), fallbackCookieValue(doc.ID, token))

	if len(existing) > 0 {
		current := access.Resolve(doc.OwnerID, session.UserID, toAccessGrants(existing))
		redemption := Redemption{
			Outcome:        RedeemAlreadyHasAccess,
			DocumentID:     doc.ID,
			Permission:     access.Max(current.Level, level).String(),
			Granted:        true,
			Persisted:      true,
			fallbackCookie: cookie,
		}
		if level > current.Level {
			if err := s.store.UpdateGrantPermission(ctx, strongestGrant(existing).ID, grant.Permission); err != nil {
				log.Printf("share: upgrade grant for %s on %s: %v", session.UserID, doc.ID, err)
				redemption.Persisted = false
				return redemption, nil
			}
			s.audit(ctx, &doc.ID, session.UserID, "share.redeemed", map[string]any{"permission": grant.Permission})
		}
		return redemption, nil
	}

	insertErr := s.store.InsertGrant(ctx, store.Grant{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		UserID:     &session.UserID,
		Permission: grant.Permission,
	})
	if insertErr != nil {
		// A race with a concurrent redemption or a transient store error.
		// The cookie alone carries access; the user is never locked out.
		log.Printf("share: persist redemption for %s on %s: %v", session.UserID, doc.ID, insertErr)
		return Redemption{
			Outcome:        RedeemGrantedWithFallback,
			DocumentID:     doc.ID,
			Permission:     level.String(),
			Granted:        true,
			Persisted:      false,
			fallbackCookie: cookie,
		}, nil
	}

	s.audit(ctx, &doc.ID, session.UserID, "share.redeemed", map[string]any{"permission": grant.Permission})
	return Redemption{
		Outcome:        RedeemGranted,
		DocumentID:     doc.ID,
		Permission:     level.String(),
		Granted:        true,
		Persisted:      true,
		fallbackCookie: cookie,
	}, nil
}

func strongestGrant(grants []store.Grant) store.Grant {
	best := grants[0]
	for _, grant := range grants[1:] {
		if access.Parse(grant.Permission) > access.Parse(best.Permission) {
			best = grant
		}
	}
	return best
}

// FallbackCookieName is the per-document cookie carrying fallback access.
func FallbackCookieName(documentID string) string {
	return "scribe_share_" + documentID
}

// VerifyFallbackCookie checks a share fallback cookie and returns the
// permission level it asserts for the document, LevelNone when invalid.
// The cookie binds the document id to the share token; the token is
// resolved against the grant table so a revoked link stops working.
func (s *Service) VerifyFallbackCookie(ctx context.Context, documentID, cookieValue string) access.Level {
	value, err := auth.VerifyValue([]byte(s.cfg.JWTSecret), cookieValue)
	if err != nil {
		return access.LevelNone
	}
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 || parts[0] != documentID {
		return access.LevelNone
	}
	grant, err := s.store.GetGrantByToken(ctx, parts[1])
	if err != nil || grant.DocumentID != documentID {
		return access.LevelNone
	}
	return access.Parse(grant.Permission)
}

func fallbackCookieValue(documentID, token string) string {
	return documentID + "|" + token
}

func generateSecureToken(length int) string {
	b := make([]byte, length)
	if _, err := crand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
