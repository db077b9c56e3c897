package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"scribe/api/internal/access"
	"scribe/api/internal/auth"
	"scribe/api/internal/authpw"
	"scribe/api/internal/collab"
	"scribe/api/internal/config"
	"scribe/api/internal/drive"
	"scribe/api/internal/export"
	"scribe/api/internal/history"
	"scribe/api/internal/identity"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetProfile(context.Context, string) (store.Profile, error)

	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	UpdateDocument(context.Context, string, *string, *string) error
	DeleteDocument(context.Context, string) error
	ListOwnedDocuments(context.Context, string) ([]store.Document, error)
	GetDocumentsByIDs(context.Context, []string) ([]store.Document, error)

	InsertGrant(context.Context, store.Grant) error
	GetGrantByToken(context.Context, string) (store.Grant, error)
	ListUserGrantsForDocument(context.Context, string, string) ([]store.Grant, error)
	ListGrantsForDocument(context.Context, string) ([]store.Grant, error)
	ListGrantsByUser(context.Context, string) ([]store.Grant, error)
	UpdateGrantPermission(context.Context, string, string) error
	DeleteGrant(context.Context, string, string) error
	DeleteGrantsForDocument(context.Context, string) error

	InsertAuditEvent(context.Context, store.AuditEvent) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type historyService interface {
	EnsureDocumentRepo(documentID, content, author string) error
	CommitSnapshot(documentID, content, author, message string) (history.Snapshot, error)
	History(documentID string, limit int) ([]history.Snapshot, error)
	ContentAt(documentID, hash string) (string, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type driveFetcher interface {
	Fetch(ctx context.Context, fileID string) (drive.File, error)
}

// driveFactory builds a Drive client for a caller-supplied OAuth token.
type driveFactory func(ctx context.Context, token *oauth2.Token) (driveFetcher, error)

type Service struct {
	cfg          config.Config
	store        dataStore
	sessions     sessionStore
	history      historyService
	search       searchService
	export       *export.Service
	authPassword *authpw.Service
	newDrive     driveFactory
}

// NewService wires the application service. searchSvc and authPassword may
// be nil when the corresponding backend is not configured.
func NewService(
	cfg config.Config,
	data dataStore,
	sessions sessionStore,
	historySvc historyService,
	searchSvc searchService,
	authPassword *authpw.Service,
) *Service {
	svc := &Service{
		cfg:          cfg,
		store:        data,
		sessions:     sessions,
		history:      historySvc,
		search:       searchSvc,
		authPassword: authPassword,
	}
	svc.export = export.NewService(&exportStore{data: data})
	svc.newDrive = func(ctx context.Context, token *oauth2.Token) (driveFetcher, error) {
		oauthCfg := drive.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		return drive.NewImporter(ctx, oauthCfg, token)
	}
	return svc
}

// AuthPasswordService exposes the email/password auth backend, or nil when
// not configured.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPassword
}

// DriveConfigured reports whether Drive import is available.
func (s *Service) DriveConfigured() bool {
	return s.cfg.GoogleClientID != "" && s.cfg.GoogleClientSecret != ""
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := uuid.NewString()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  s.displayName(ctx, user),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := randomToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     s.displayName(ctx, user),
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. The claims are self-contained,
// so no store lookup happens on the hot path.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CollabSession mints a realtime editing credential for a document the
// caller can access.
func (s *Service) CollabSession(ctx context.Context, session Session, documentID string) (collab.Session, error) {
	_, decision, err := s.resolveAccess(ctx, session, documentID, access.LevelView)
	if err != nil {
		return collab.Session{}, err
	}
	permission := decision.Level.String()
	if decision.Owner {
		permission = "edit"
	}
	return collab.MintSession([]byte(s.cfg.JWTSecret), documentID, session.UserID, session.UserName, permission)
}

func (s *Service) displayName(ctx context.Context, user store.User) string {
	profileName := ""
	if profile, err := s.store.GetProfile(ctx, user.ID); err == nil {
		profileName = profile.DisplayName
	}
	return identity.DisplayName(user.DisplayName, profileName, user.Email)
}

func (s *Service) audit(ctx context.Context, documentID *string, actorID, eventType string, metadata map[string]any) {
	if err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		DocumentID: documentID,
		ActorID:    actorID,
		EventType:  eventType,
		Metadata:   metadata,
	}); err != nil {
		log.Printf("audit: record %s: %v", eventType, err)
	}
}

func randomToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// exportStore adapts the data store to what the export renderer needs.
type exportStore struct {
	data dataStore
}

func (e *exportStore) GetExportDocument(ctx context.Context, documentID string) (export.Document, error) {
	doc, err := e.data.GetDocument(ctx, documentID)
	if err != nil {
		return export.Document{}, err
	}
	author := ""
	if owner, err := e.data.GetUserByID(ctx, doc.OwnerID); err == nil {
		author = identity.DisplayName(owner.DisplayName, "", owner.Email)
	}
	content := ""
	if doc.Content != nil {
		content = *doc.Content
	}
	return export.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   content,
		Author:    author,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
