package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	token, err := IssueToken(secret, Claims{
		Sub:  "acct_1",
		Role: "approver",
		JTI:  "jti_1",
		Exp:  time.Now().Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Sub != "acct_1" || claims.Role != "approver" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	token, err := IssueToken(secret, Claims{Sub: "acct_1", JTI: "jti_1", Exp: time.Now().Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := ParseToken([]byte("other"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for wrong secret, got %v", err)
	}
	if _, err := ParseToken(secret, token+".extra"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for extra segment, got %v", err)
	}
	payload, _, _ := strings.Cut(token, ".")
	if _, err := ParseToken(secret, payload); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token without signature, got %v", err)
	}
}

func TestParseExpiredToken(t *testing.T) {
	secret := []byte("secret")
	token, err := IssueToken(secret, Claims{
		Sub: "acct_1",
		JTI: "jti_1",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	_, err = ParseToken(secret, token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestSecretMatches(t *testing.T) {
	stored := HashSecret("device-secret")
	if !SecretMatches(stored, "device-secret") {
		t.Fatal("expected matching secret")
	}
	if SecretMatches(stored, "device-secreT") {
		t.Fatal("expected mismatch")
	}
	if SecretMatches("", "") {
		t.Fatal("empty digest must never match")
	}
}

func TestNewClaimsRoundTrip(t *testing.T) {
	secret := []byte("secret")
	claims := NewClaims("acct_9", "operator", time.Hour)
	if claims.JTI == "" || claims.Exp <= time.Now().Unix() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed != claims {
		t.Fatalf("expected %+v, got %+v", claims, parsed)
	}

	expired, err := IssueToken(secret, NewClaims("acct_9", "operator", -time.Minute))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseToken(secret, expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}
