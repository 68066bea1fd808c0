package rpcserver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wangnov/mcp-center/internal/layout"
)

const tokenSubject = "mcp-center-rpc"

// loadOrCreateSecret returns the HMAC secret backing Operator RPC auth
// tokens, generating and persisting a fresh 32-byte secret on first use.
// The file lives under StateDir alongside the sockets, 0600, so only the
// daemon's own user can mint or verify tokens.
func loadOrCreateSecret(l layout.Layout) ([]byte, error) {
	path := secretPath(l)
	if data, err := os.ReadFile(path); err == nil {
		secret, decodeErr := hex.DecodeString(string(data))
		if decodeErr == nil && len(secret) > 0 {
			return secret, nil
		}
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate RPC auth secret: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist RPC auth secret: %w", err)
	}
	return secret, nil
}

func secretPath(l layout.Layout) string {
	return filepath.Join(l.StateDir(), "daemon.rpc.secret")
}

// tokenPath is where IssueToken writes the bearer token operators (the
// mcp-center CLI) read to authenticate against the Operator RPC socket.
func tokenPath(l layout.Layout) string {
	return filepath.Join(l.StateDir(), "daemon.rpc.token")
}

// IssueToken mints a fresh bearer token and writes it to
// StateDir/daemon.rpc.token, 0600. The token carries no expiry.
func IssueToken(l layout.Layout, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign RPC auth token: %w", err)
	}
	if err := os.WriteFile(tokenPath(l), []byte(signed), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist RPC auth token: %w", err)
	}
	return signed, nil
}

// verifyToken reports whether raw is an HMAC-signed token for the RPC
// subject, signed with secret. Since tokens carry no expiry and the secret
// persists across restarts, a token issued by an earlier daemon run also
// verifies.
func verifyToken(secret []byte, raw string) bool {
	if raw == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	return err == nil && parsed.Valid && claims.Subject == tokenSubject
}

// ReadToken loads the bearer token a CLI/operator should present, from the
// daemon's StateDir.
func ReadToken(l layout.Layout) (string, error) {
	data, err := os.ReadFile(tokenPath(l))
	if err != nil {
		return "", fmt.Errorf("failed to read RPC auth token (is the daemon running?): %w", err)
	}
	return string(data), nil
}
