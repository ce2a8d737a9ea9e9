package auth_test

import (
	"errors"
	"testing"
	"time"

	"vector/internal/engine/auth"
)

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event":"treatment_note.created"}`)
	sig := auth.Sign(body, "s3cret")
	if len(sig) != len("sha256=")+64 {
		t.Fatalf("unexpected signature %q", sig)
	}
	if err := auth.Verify(body, "s3cret", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := auth.Verify(body, "other", sig); !errors.Is(err, auth.ErrBadSignature) {
		t.Fatalf("expected mismatch with wrong secret, got %v", err)
	}
	if err := auth.Verify([]byte(`{"event":"x"}`), "s3cret", sig); !errors.Is(err, auth.ErrBadSignature) {
		t.Fatalf("expected mismatch for tampered body, got %v", err)
	}
	if err := auth.Verify(body, "s3cret", sig[len("sha256="):]); !errors.Is(err, auth.ErrBadSignature) {
		t.Fatalf("expected mismatch without prefix, got %v", err)
	}
	if err := auth.Verify(body, "s3cret", ""); !errors.Is(err, auth.ErrMissingSignature) {
		t.Fatalf("expected missing signature, got %v", err)
	}
}

func TestSecretConfigured(t *testing.T) {
	cases := map[string]bool{
		"":                    false,
		"   ":                 false,
		auth.DevWebhookSecret: false,
		"real-secret":         true,
	}
	for secret, want := range cases {
		if got := auth.SecretConfigured(secret); got != want {
			t.Fatalf("SecretConfigured(%q) = %v, want %v", secret, got, want)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	tok, err := auth.IssueToken("jwt-secret", "clinician-1", now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := auth.ParseToken(tok, "jwt-secret")
	if err != nil || sub != "clinician-1" {
		t.Fatalf("parse: %q %v", sub, err)
	}
	if _, err := auth.ParseToken(tok, "wrong"); err == nil {
		t.Fatalf("expected error with wrong secret")
	}
	expired, err := auth.IssueToken("jwt-secret", "clinician-1", now.Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.ParseToken(expired, "jwt-secret"); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	if _, err := auth.IssueToken("jwt-secret", "", now, 0); err == nil {
		t.Fatalf("expected subject required")
	}
}
