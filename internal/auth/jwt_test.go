package auth

import (
	"testing"
	"time"
)

func TestCreateAndVerifyDeviceToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateDeviceToken("A1", cfg)
	if err != nil {
		t.Fatalf("CreateDeviceToken: %v", err)
	}

	claims, err := VerifyDeviceToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyDeviceToken: %v", err)
	}
	if claims.DeviceID != "A1" {
		t.Fatalf("expected A1, got %q", claims.DeviceID)
	}
}

func TestVerifyDeviceToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateDeviceToken("A1", cfg)
	if err != nil {
		t.Fatalf("CreateDeviceToken: %v", err)
	}

	_, err = VerifyDeviceToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyDeviceToken_WrongIssuer(t *testing.T) {
	tok, err := CreateDeviceToken("A1", TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "other"})
	if err != nil {
		t.Fatalf("CreateDeviceToken: %v", err)
	}

	if _, err := VerifyDeviceToken(tok, DefaultTokenConfig("secret")); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestCreateDeviceToken_InvalidInput(t *testing.T) {
	if _, err := CreateDeviceToken("A1", TokenConfig{Secret: "secret", Expiry: -time.Second}); err == nil {
		t.Fatalf("expected error for negative expiry")
	}
	if _, err := CreateDeviceToken("", DefaultTokenConfig("secret")); err == nil {
		t.Fatalf("expected error for empty device id")
	}
	if _, err := CreateDeviceToken("A1", DefaultTokenConfig("")); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestVerifyDeviceToken_Garbage(t *testing.T) {
	if _, err := VerifyDeviceToken("not.a.token", DefaultTokenConfig("secret")); err == nil {
		t.Fatalf("expected error")
	}
}
