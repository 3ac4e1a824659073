// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// keySize is the HMAC key length in bytes (256 bits).
const keySize = 32

// Signer computes and verifies HMAC-SHA256 signatures over the canonical
// serialization of events. The key is generated once and persisted;
// losing it invalidates every prior signature, which is an operational
// event, not something the engine recovers from.
type Signer struct {
	key []byte
}

// LoadOrCreateKey reads the signing key from path, or generates and
// persists a fresh one on first start. The key file holds a single
// 64-character hex string with owner-only permissions.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("key file %s is corrupt: %w", path, decErr)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(key), keySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist signing key: %w", err)
	}
	return key, nil
}

// NewSigner creates a signer over the given key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", keySize, len(key))
	}
	return &Signer{key: key}, nil
}

// Sign computes the hex HMAC-SHA256 signature over the event's canonical
// serialization with Signature empty.
func (s *Signer) Sign(ev *Event) (string, error) {
	canonical, err := canonicalBytes(ev)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature and compares it in constant time.
func (s *Signer) Verify(ev *Event) bool {
	if ev.Signature == "" {
		return false
	}
	expected, err := s.Sign(ev)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(ev.Signature))
}

// canonicalBytes serializes the event for signing: struct fields in
// declaration order, map keys sorted by the encoder, Signature omitted.
func canonicalBytes(ev *Event) ([]byte, error) {
	unsigned := *ev
	unsigned.Signature = ""
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event for signing: %w", err)
	}
	return data, nil
}
