package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

const (
	// SecretHeader carries the shared secret on HTTP /rpc requests
	SecretHeader = "X-Agentic-Secret"

	maxAuthAttempts     = 3
	challengeBytes      = 32
	defaultChallengeTTL = 30 * time.Second
	authEventSuccess    = "auth.success"
	authEventFailure    = "auth.failure"
	authEventChallenge  = "auth.challenge"
	authMethodResponse  = "auth.response"
)

// AuthHandler authenticates gateway callers with one shared secret.
// Websocket clients answer a single-use challenge with its hex HMAC-SHA256
// under the secret; HTTP callers send the secret in SecretHeader.
type AuthHandler struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthHandler creates a handler for the given shared secret
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		secret: []byte(sharedSecret),
		ttl:    defaultChallengeTTL,
		now:    time.Now,
	}
}

// Issue creates a fresh challenge for client and moves it to the
// authenticating state. Any previous challenge is replaced.
func (a *AuthHandler) Issue(client *Client) (AuthChallenge, error) {
	raw := make([]byte, challengeBytes)
	if _, err := rand.Read(raw); err != nil {
		return AuthChallenge{}, fmt.Errorf("failed to generate challenge: %w", err)
	}

	client.Challenge = hex.EncodeToString(raw)
	client.ChallengeExpiresAt = a.now().Add(a.ttl)
	client.State = StateAuthenticating
	return AuthChallenge{Event: authEventChallenge, Challenge: client.Challenge}, nil
}

// Sign returns the hex HMAC-SHA256 of challenge under the shared secret
func (a *AuthHandler) Sign(challenge string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature answers challenge
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	return subtle.ConstantTimeCompare([]byte(a.Sign(challenge)), []byte(signature)) == 1
}

// VerifyRequest checks the shared secret header of an HTTP request
func (a *AuthHandler) VerifyRequest(r *http.Request) bool {
	secret := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(secret), a.secret) == 1
}

// HandleAuthResponse checks a client's answer to its outstanding challenge.
// A challenge is consumed by success or expiry. After maxAuthAttempts bad
// signatures the client is locked out and should be disconnected.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) AuthResult {
	switch {
	case client.Authenticated:
		return AuthResult{Event: authEventSuccess, Success: true}
	case client.LockedOut():
		return authFailure("Too many failed attempts")
	case client.Challenge == "":
		return authFailure("No challenge found")
	case !client.ChallengeExpiresAt.IsZero() && a.now().After(client.ChallengeExpiresAt):
		client.Challenge = ""
		return authFailure("Challenge expired")
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++
		if client.LockedOut() {
			client.Challenge = ""
			return authFailure("Too many failed attempts")
		}
		return authFailure("Invalid signature")
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""
	client.ChallengeExpiresAt = time.Time{}
	return AuthResult{Event: authEventSuccess, Success: true}
}

func authFailure(msg string) AuthResult {
	return AuthResult{Event: authEventFailure, Message: msg}
}
