package security

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(key, "aelus_") {
		t.Errorf("key %q missing aelus_ prefix", key)
	}
	if len(key) != len("aelus_")+32 {
		t.Errorf("key length = %d, want %d", len(key), len("aelus_")+32)
	}

	other, _ := GenerateAPIKey()
	if key == other {
		t.Error("two generated keys are identical")
	}
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	key, _ := GenerateAPIKey()

	hash := HashAPIKey(key)
	if hash == key {
		t.Error("hash equals plaintext key")
	}
	if hash != HashAPIKey(key) {
		t.Error("hash is not deterministic")
	}

	if !VerifyAPIKey(key, hash) {
		t.Error("VerifyAPIKey rejected the correct key")
	}
	if VerifyAPIKey("aelus_wrong", hash) {
		t.Error("VerifyAPIKey accepted a wrong key")
	}
}

func TestAdminSecret(t *testing.T) {
	hash, err := HashAdminSecret("s3cret")
	if err != nil {
		t.Fatalf("HashAdminSecret failed: %v", err)
	}

	if !VerifyAdminSecret("s3cret", hash) {
		t.Error("VerifyAdminSecret rejected the correct secret")
	}
	if VerifyAdminSecret("wrong", hash) {
		t.Error("VerifyAdminSecret accepted a wrong secret")
	}

	// bcrypt salts: same secret, different hashes
	other, _ := HashAdminSecret("s3cret")
	if hash == other {
		t.Error("two bcrypt hashes of the same secret are identical")
	}
}
