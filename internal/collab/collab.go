// Package collab mints short-lived credentials for the realtime editing
// relay. The relay only needs to check the signature; it never talks to the
// database.
package collab

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// RoomClaims is what a collab token asserts about its holder.
type RoomClaims struct {
	Room        string `json:"room"`
	UserID      string `json:"sub"`
	DisplayName string `json:"name"`
	Permission  string `json:"permission"`
	Exp         int64  `json:"exp"`
}

// Session is the credential handed to the client.
type Session struct {
	Room      string    `json:"room"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var ErrInvalidSession = errors.New("invalid collab session")

const sessionTTL = 2 * time.Hour

// RoomName derives the relay room for a document. Every client editing the
// same document must land in the same room.
func RoomName(documentID string) string {
	return "doc-" + documentID
}

// MintSession issues a signed room credential.
func MintSession(secret []byte, documentID, userID, displayName, permission string) (Session, error) {
	expiresAt := time.Now().Add(sessionTTL)
	claims := RoomClaims{
		Room:        RoomName(documentID),
		UserID:      userID,
		DisplayName: displayName,
		Permission:  permission,
		Exp:         expiresAt.Unix(),
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return Session{}, err
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return Session{
		Room:      claims.Room,
		Token:     payload + "." + sign(secret, payload),
		ExpiresAt: expiresAt,
	}, nil
}

// VerifySession checks a room credential and returns its claims.
func VerifySession(secret []byte, token string) (RoomClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return RoomClaims{}, ErrInvalidSession
	}
	expected := sign(secret, parts[0])
	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return RoomClaims{}, ErrInvalidSession
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return RoomClaims{}, ErrInvalidSession
	}
	var claims RoomClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return RoomClaims{}, ErrInvalidSession
	}
	if claims.Room == "" || claims.UserID == "" || claims.Exp == 0 {
		return RoomClaims{}, ErrInvalidSession
	}
	if time.Now().Unix() >= claims.Exp {
		return RoomClaims{}, ErrInvalidSession
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
