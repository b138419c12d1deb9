package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// verifierBytes is the entropy pulled for each code verifier. 40 bytes
// encode to 54 base64url characters, inside the 43-128 window RFC 7636
// allows.
const verifierBytes = 40

// ErrInvalidVerifier is returned when a code verifier is empty or contains
// characters outside the RFC 7636 unreserved set (A-Z, a-z, 0-9, "-._~").
var ErrInvalidVerifier = errors.New("invalid code verifier")

// Pair is a PKCE code verifier together with its S256 challenge.
type Pair struct {
	Verifier  string
	Challenge string
}

// GenerateVerifier returns a new cryptographically random code verifier
// encoded as unpadded base64url.
func GenerateVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ChallengeS256 derives the S256 code challenge for the given verifier:
// the unpadded base64url encoding of its SHA-256 digest.
func ChallengeS256(verifier string) (string, error) {
	if err := checkVerifier(verifier); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// NewPair generates a verifier and its challenge in one step.
func NewPair() (Pair, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return Pair{}, err
	}
	challenge, err := ChallengeS256(verifier)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Verifier: verifier, Challenge: challenge}, nil
}

func checkVerifier(verifier string) error {
	if verifier == "" {
		return fmt.Errorf("%w: empty string", ErrInvalidVerifier)
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return fmt.Errorf("%w: character %q at position %d", ErrInvalidVerifier, c, i)
		}
	}
	return nil
}
