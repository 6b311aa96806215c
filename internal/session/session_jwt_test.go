package session

import (
	"testing"
	"time"
)

func TestJWTStoreIssuesAndVerifiesSubject(t *testing.T) {
	store, err := NewJWTStore("test-secret", time.Minute, Options{})
	if err != nil {
		t.Fatalf("new jwt store: %v", err)
	}
	token, err := store.NewToken("admin-1")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	subject, err := store.VerifySubject(token)
	if err != nil {
		t.Fatalf("verify subject: %v", err)
	}
	if subject != "admin-1" {
		t.Fatalf("expected subject admin-1, got %q", subject)
	}
}

func TestJWTStoreRejectsWrongSecret(t *testing.T) {
	signing, err := NewJWTStore("secret-a", time.Minute, Options{})
	if err != nil {
		t.Fatalf("new signing store: %v", err)
	}
	verify, err := NewJWTStore("secret-b", time.Minute, Options{})
	if err != nil {
		t.Fatalf("new verify store: %v", err)
	}
	token, err := signing.NewToken("admin-1")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if _, err := verify.VerifySubject(token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestJWTStoreEnforcesAudience(t *testing.T) {
	signing, err := NewJWTStore("shared", time.Minute, Options{Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new signing store: %v", err)
	}
	verify, err := NewJWTStore("shared", time.Minute, Options{Audience: "aud-b"})
	if err != nil {
		t.Fatalf("new verify store: %v", err)
	}
	token, err := signing.NewToken("admin-1")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if _, err := verify.VerifySubject(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTStoreRejectsExpiredToken(t *testing.T) {
	store, err := NewJWTStore("shared", time.Millisecond, Options{Leeway: time.Millisecond})
	if err != nil {
		t.Fatalf("new jwt store: %v", err)
	}
	token, err := store.NewToken("admin-1")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := store.VerifySubject(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestJWTStoreRejectsMalformedToken(t *testing.T) {
	store, err := NewJWTStore("shared", time.Minute, Options{})
	if err != nil {
		t.Fatalf("new jwt store: %v", err)
	}
	for _, token := range []string{"", "   ", "not.a.jwt"} {
		if _, err := store.VerifySubject(token); err == nil {
			t.Fatalf("expected malformed token %q to fail", token)
		}
	}
}
