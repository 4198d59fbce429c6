package callback

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// PKCE holds the proof key material for one authorization attempt.
type PKCE struct {
	Verifier  string
	Challenge string
	State     string
}

// GeneratePKCE draws a fresh verifier and state from crypto/rand.
func GeneratePKCE() (PKCE, error) {
	verifier := make([]byte, 32)
	if _, err := rand.Read(verifier); err != nil {
		return PKCE{}, fmt.Errorf("generating verifier: %w", err)
	}
	state := make([]byte, 32)
	if _, err := rand.Read(state); err != nil {
		return PKCE{}, fmt.Errorf("generating state: %w", err)
	}
	v := base64.RawURLEncoding.EncodeToString(verifier)
	return PKCE{
		Verifier:  v,
		Challenge: ChallengeFor(v),
		State:     hex.EncodeToString(state),
	}, nil
}

// ChallengeFor derives the S256 code challenge of a verifier.
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthorizeURL appends the authorization-code request parameters to base.
func AuthorizeURL(base, clientID, redirectURI string, scopes []string, p PKCE) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing authorize url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("authorize url must be absolute: %q", base)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("code_challenge", p.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", p.State)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
