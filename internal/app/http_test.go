package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scribe/api/internal/auth"
	"scribe/api/internal/store"
)

const testDocID = "3f2b6c1e-9d4a-4f0b-8c2d-1a5e7f9b0c3d"

func bearerFor(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return "Bearer " + session.Token
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok true, got %v", payload["ok"])
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestAuthRoutesUnavailableWithoutBackend(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewBufferString(`{"email":"a@b.c","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDocumentRouteRejectsNonUUID(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/documents/not-a-uuid", nil)
	req.Header.Set("Authorization", bearerFor(t, svc, "u1"))
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected code VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID, nil)
	req.Header.Set("Authorization", bearerFor(t, svc, "u1"))
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateAndGetDocument(t *testing.T) {
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
	server := NewHTTPServer(svc, "*")
	bearer := bearerFor(t, svc, "u1")

	req := httptest.NewRequest(http.MethodPost, "/api/documents", bytes.NewBufferString(`{"title":"Plan","content":"# Plan"}`))
	req.Header.Set("Authorization", bearer)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created DocumentView
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if created.Title != "Plan" || created.EffectivePermission != "owner" {
		t.Fatalf("unexpected document: %+v", created)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/documents/"+created.ID, nil)
	req.Header.Set("Authorization", bearer)
	rr = httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRedeemSetsFallbackCookieOnPersistFailure(t *testing.T) {
	token := "tok123"
	data := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			if documentID != testDocID {
				return store.Document{}, sql.ErrNoRows
			}
			return docFixture(testDocID, "owner-1", time.Now()), nil
		},
		getGrantByTokenFn: func(_ context.Context, got string) (store.Grant, error) {
			if got != token {
				return store.Grant{}, sql.ErrNoRows
			}
			return linkGrant(testDocID, got, "view"), nil
		},
		insertGrantFn: func(context.Context, store.Grant) error {
			return errors.New("write failed")
		},
	}
	svc := newTestService(data)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/share/redeem", bytes.NewBufferString(`{"token":"`+token+`"}`))
	req.Header.Set("Authorization", bearerFor(t, svc, "alice"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var redemption Redemption
	if err := json.Unmarshal(rr.Body.Bytes(), &redemption); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if redemption.Persisted {
		t.Fatal("expected persisted false")
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == FallbackCookieName(testDocID) {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected a fallback cookie to be set")
	}
	if !cookie.HttpOnly {
		t.Error("fallback cookie must be HttpOnly")
	}
	if svc.VerifyFallbackCookie(context.Background(), testDocID, cookie.Value) == 0 {
		t.Error("fallback cookie did not verify")
	}
}

func TestGetDocumentWithFallbackCookie(t *testing.T) {
	data := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			if documentID != testDocID {
				return store.Document{}, sql.ErrNoRows
			}
			return docFixture(testDocID, "owner-1", time.Now()), nil
		},
		getGrantByTokenFn: func(_ context.Context, token string) (store.Grant, error) {
			if token != "tok123" {
				return store.Grant{}, sql.ErrNoRows
			}
			return linkGrant(testDocID, token, "view"), nil
		},
	}
	svc := newTestService(data)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID, nil)
	req.Header.Set("Authorization", bearerFor(t, svc, "stranger"))
	req.AddCookie(&http.Cookie{
		Name:  FallbackCookieName(testDocID),
		Value: auth.SignValue([]byte("test-secret"), testDocID+"|tok123"),
	})
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var view DocumentView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if view.EffectivePermission != "view" {
		t.Fatalf("EffectivePermission = %q, want view", view.EffectivePermission)
	}
}
