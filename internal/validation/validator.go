// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package validation sanitizes and bounds-checks every field before it
// becomes part of an audit event. Invalid input is rejected, never silently
// truncated - truncation would corrupt downstream joins against the same
// identifier.
//
// The package covers four concerns:
//
//   - Identifier validation (lead IDs, workflow names, event types)
//   - Payload size accounting for event details
//   - File path containment against an allow-list of base directories
//   - Webhook URL validation against SSRF (see URLValidator)
//
// Struct validation uses go-playground/validator v10 through a thread-safe
// singleton instance.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Field limits. Oversized or malformed input fails closed.
const (
	MaxLeadIDLength    = 50
	MaxWorkflowLength  = 100
	MaxEventTypeLength = 50
	MaxActorLength     = 200

	// MaxDetailsSize caps the serialized size of an event's details map.
	MaxDetailsSize = 50 * 1024

	// MaxStringValueLength caps any single string value inside details.
	MaxStringValueLength = 10 * 1024
)

// Sentinel errors for the engine's error taxonomy.
var (
	// ErrPayloadTooLarge indicates details exceeded a size cap.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrPathTraversal indicates a file path resolved outside the allow-list.
	ErrPathTraversal = errors.New("path outside allowed directories")

	// ErrSSRFRejected indicates a webhook URL failed SSRF validation.
	ErrSSRFRejected = errors.New("webhook URL rejected")
)

// FieldError describes a single field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// identifierRe matches the restrictive charset shared by lead IDs,
// workflow names, and event types.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateLeadID checks a lead ID against the identifier charset and
// length limit. Returns the input unchanged on success.
func ValidateLeadID(leadID string) (string, error) {
	return validateIdentifier("lead_id", leadID, MaxLeadIDLength)
}

// ValidateWorkflow checks a workflow name.
func ValidateWorkflow(workflow string) (string, error) {
	return validateIdentifier("workflow", workflow, MaxWorkflowLength)
}

// ValidateEventType checks an event type string.
func ValidateEventType(eventType string) (string, error) {
	return validateIdentifier("event_type", eventType, MaxEventTypeLength)
}

func validateIdentifier(field, value string, maxLen int) (string, error) {
	if value == "" {
		return "", &FieldError{Field: field, Reason: "cannot be empty"}
	}
	if len(value) > maxLen {
		return "", &FieldError{Field: field, Reason: fmt.Sprintf("exceeds %d characters", maxLen)}
	}
	if !identifierRe.MatchString(value) {
		return "", &FieldError{Field: field, Reason: "only alphanumeric, hyphens, and underscores allowed"}
	}
	return value, nil
}

// SanitizeActor strips control characters from an actor string and bounds
// its length. Unlike identifiers, actors may contain arbitrary printable
// text (email addresses, service names), so this sanitizes rather than
// rejects.
func SanitizeActor(actor string) string {
	if actor == "" {
		return "system"
	}

	var b strings.Builder
	for _, r := range actor {
		if r >= 32 && r != 127 || r == '\t' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > MaxActorLength {
		s = s[:MaxActorLength]
	}
	if s == "" {
		return "system"
	}
	return s
}

// ValidateDetails checks the serialized size of a details map against
// MaxDetailsSize and every string value against MaxStringValueLength.
// Both violations fail with ErrPayloadTooLarge rather than dropping
// fields, to avoid ambiguous audit gaps.
func ValidateDetails(details map[string]interface{}) error {
	if details == nil {
		return nil
	}

	data, err := json.Marshal(details)
	if err != nil {
		return &FieldError{Field: "details", Reason: "not serializable: " + err.Error()}
	}
	if len(data) > MaxDetailsSize {
		return fmt.Errorf("%w: details serialized to %d bytes, max %d", ErrPayloadTooLarge, len(data), MaxDetailsSize)
	}

	return checkStringValues(details)
}

// checkStringValues walks a details value tree looking for oversized strings.
func checkStringValues(v interface{}) error {
	switch val := v.(type) {
	case string:
		if len(val) > MaxStringValueLength {
			return fmt.Errorf("%w: string value of %d bytes, max %d", ErrPayloadTooLarge, len(val), MaxStringValueLength)
		}
	case map[string]interface{}:
		for _, item := range val {
			if err := checkStringValues(item); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range val {
			if err := checkStringValues(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// StripControlChars removes all control characters from a string except
// tab and newline. JSON encoding escapes the survivors.
func StripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, s)
}

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the singleton go-playground validator instance.
// The validator is thread-safe and caches struct metadata.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates a struct's `validate` tags using the singleton
// validator. Returns nil on success, or an error listing the failing fields.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	messages := make([]string, len(validationErrs))
	for i, fe := range validationErrs {
		messages[i] = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
	return errors.New(strings.Join(messages, "; "))
}
