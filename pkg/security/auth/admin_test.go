package auth

import (
	"errors"
	"testing"

	"storefront-hq/payrelay/pkg/config"
)

func testKeys() []config.AdminKey {
	return []config.AdminKey{
		{Name: "ops-alice", Key: "alice-secret", Enabled: true},
		{Name: "ops-bob", Key: "bob-secret", Enabled: false},
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(testKeys())

	admin, err := v.Validate("alice-secret")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if admin.Name != "ops-alice" {
		t.Errorf("expected ops-alice, got %q", admin.Name)
	}

	if _, err := v.Validate("bob-secret"); !errors.Is(err, ErrKeyDisabled) {
		t.Errorf("expected ErrKeyDisabled, got %v", err)
	}
	if _, err := v.Validate("wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := v.Validate(""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for empty key, got %v", err)
	}
}

func TestValidator_Update(t *testing.T) {
	v := NewValidator(testKeys())

	v.Update([]config.AdminKey{
		{Name: "ops-carol", Key: "carol-secret", Enabled: true},
	})

	if _, err := v.Validate("alice-secret"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected old key rejected after update, got %v", err)
	}

	admin, err := v.Validate("carol-secret")
	if err != nil {
		t.Fatalf("Validate failed after update: %v", err)
	}
	if admin.Name != "ops-carol" {
		t.Errorf("expected ops-carol, got %q", admin.Name)
	}
}
