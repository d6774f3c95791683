package auth

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestProxyCredentialsValidate(t *testing.T) {
	creds := NewProxyCredentials(true, "proxy-user", "proxy-pass")

	if !creds.Validate("proxy-user", "proxy-pass") {
		t.Fatal("valid credentials rejected")
	}
	if creds.Validate("proxy-user", "wrong") {
		t.Fatal("invalid password accepted")
	}
	if creds.Validate("wrong", "proxy-pass") {
		t.Fatal("invalid username accepted")
	}
}

func TestProxyCredentialsDisabledAcceptsAnything(t *testing.T) {
	creds := NewProxyCredentials(false, "", "")
	if !creds.Validate("anything", "at-all") {
		t.Fatal("disabled auth rejected a client")
	}
}

func TestProxyCredentialsUpdate(t *testing.T) {
	creds := NewProxyCredentials(false, "", "")
	creds.Update(true, "user", "pass")

	if !creds.Enabled() {
		t.Fatal("Update did not enable auth")
	}
	if creds.Validate("old", "old") {
		t.Fatal("stale credentials accepted after update")
	}
	if !creds.Validate("user", "pass") {
		t.Fatal("updated credentials rejected")
	}
}

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken("test-secret", "admin", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	subject, err := ParseToken("test-secret", token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if subject != "admin" {
		t.Fatalf("subject = %q, want admin", subject)
	}
}

func TestParseTokenRejectsBadSecret(t *testing.T) {
	token, err := IssueToken("test-secret", "admin", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken("other-secret", token); err != ErrInvalidToken {
		t.Fatalf("ParseToken returned %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := IssueToken("test-secret", "admin", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken("test-secret", token); err != ErrInvalidToken {
		t.Fatalf("ParseToken returned %v, want ErrInvalidToken", err)
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken("", "admin", time.Hour); err != ErrSecretMissing {
		t.Fatalf("IssueToken returned %v, want ErrSecretMissing", err)
	}
}

func TestVerifyAdminPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	if err := VerifyAdminPassword(string(hash), "", "hunter2"); err != nil {
		t.Fatalf("hashed password rejected: %v", err)
	}
	if err := VerifyAdminPassword(string(hash), "", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("wrong password returned %v, want ErrInvalidCredentials", err)
	}

	if err := VerifyAdminPassword("", "plain-pass", "plain-pass"); err != nil {
		t.Fatalf("plain password rejected: %v", err)
	}
	if err := VerifyAdminPassword("", "plain-pass", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("wrong plain password returned %v, want ErrInvalidCredentials", err)
	}
	if err := VerifyAdminPassword("", "", "anything"); err != ErrInvalidCredentials {
		t.Fatal("empty configuration accepted a password")
	}
}
