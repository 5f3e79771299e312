// Package auth validates administrator credentials.
//
// Every mutating registry operation exposed through the CLI is gated by an
// administrator key configured in the auth section of the config file. The
// registry itself stays transport-agnostic; authorization happens at the
// boundary.
package auth

import (
	"crypto/subtle"
	"errors"
	"sync"

	"storefront-hq/payrelay/pkg/config"
)

// Validation errors.
var (
	// ErrInvalidKey is returned for unknown administrator keys.
	ErrInvalidKey = errors.New("invalid administrator key")

	// ErrKeyDisabled is returned when the key exists but is disabled.
	ErrKeyDisabled = errors.New("administrator key disabled")
)

// Admin describes a validated administrator.
type Admin struct {
	// Name identifies the administrator in audit events.
	Name string
}

// Validator validates administrator keys against the configured set.
type Validator struct {
	mu   sync.RWMutex
	keys map[string]config.AdminKey
}

// NewValidator creates a validator from the configured admin keys.
func NewValidator(keys []config.AdminKey) *Validator {
	keyMap := make(map[string]config.AdminKey, len(keys))
	for _, key := range keys {
		keyMap[key.Key] = key
	}
	return &Validator{keys: keyMap}
}

// Validate checks the given key and returns the administrator it belongs to.
func (v *Validator) Validate(key string) (*Admin, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for stored, info := range v.keys {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(key)) == 1 {
			if !info.Enabled {
				return nil, ErrKeyDisabled
			}
			return &Admin{Name: info.Name}, nil
		}
	}
	return nil, ErrInvalidKey
}

// Update replaces the configured key set, e.g. after a config reload.
func (v *Validator) Update(keys []config.AdminKey) {
	keyMap := make(map[string]config.AdminKey, len(keys))
	for _, key := range keys {
		keyMap[key.Key] = key
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys = keyMap
}
