package authtoken

import (
	"testing"
	"time"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	key, _, err := GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}

	token, exp, err := Issue(key, "user-1", "reviewer", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatal("expiry should be in the future")
	}

	claims, err := Verify(&key.PublicKey, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Persona != "reviewer" {
		t.Errorf("Persona = %q, want reviewer", claims.Persona)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, _, err := GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}
	other, _, err := GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}

	token, _, err := Issue(key, "user-1", "reviewer", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Verify(&other.PublicKey, token); err == nil {
		t.Fatal("expected verification to fail with mismatched key")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key, _, err := GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}
	token, _, err := Issue(key, "user-1", "reviewer", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Verify(&key.PublicKey, token); err == nil {
		t.Fatal("expected verification to fail for expired token")
	}
}

func TestParseECKeyFromEnvRejectsEmpty(t *testing.T) {
	if _, err := ParseECKeyFromEnv(""); err == nil {
		t.Fatal("expected error for empty env value")
	}
}

func TestParseECKeyFromEnvRoundTripsGeneratedKey(t *testing.T) {
	_, encoded, err := GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}
	if _, err := ParseECKeyFromEnv(encoded); err != nil {
		t.Fatalf("ParseECKeyFromEnv: %v", err)
	}
}
