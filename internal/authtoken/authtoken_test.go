package authtoken

import (
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	m := NewManager([]byte("secret"), time.Hour)
	tok, err := m.Issue("agent-1", "org-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := m.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.AgentID != "agent-1" || claims.OrgID != "org-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidate_WrongSecretRejected(t *testing.T) {
	issuer := NewManager([]byte("secret-a"), time.Hour)
	verifier := NewManager([]byte("secret-b"), time.Hour)
	tok, _ := issuer.Issue("agent-1", "org-1")
	if _, err := verifier.Validate(tok); err == nil {
		t.Fatal("expected validation failure with mismatched secret")
	}
}

func TestValidate_ExpiredRejected(t *testing.T) {
	m := NewManager([]byte("secret"), -time.Minute)
	tok, _ := m.Issue("agent-1", "org-1")
	if _, err := m.Validate(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidate_GarbageRejected(t *testing.T) {
	m := NewManager([]byte("secret"), time.Hour)
	if _, err := m.Validate("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
