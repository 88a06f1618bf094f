package auth

import "testing"

func TestVerifySecret_Valid(t *testing.T) {
	if !VerifySecret("s3cret", "s3cret") {
		t.Fatalf("expected secret to verify")
	}
}

func TestVerifySecret_Mismatch(t *testing.T) {
	cases := []struct{ expected, presented string }{
		{"s3cret", "s3cre"},
		{"s3cret", "S3CRET"},
		{"s3cret", ""},
		{"", ""},
		{"", "anything"},
	}
	for _, tc := range cases {
		if VerifySecret(tc.expected, tc.presented) {
			t.Fatalf("expected %q vs %q to fail", tc.expected, tc.presented)
		}
	}
}

func TestVerifySecretDetailed_Error(t *testing.T) {
	if err := VerifySecretDetailed("a", "b"); err != ErrInvalidSecret {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
}
