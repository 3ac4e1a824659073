// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateFilePath resolves a file path (following symlinks on the existing
// portion) and checks that it lands inside one of the allowed base
// directories. Returns the cleaned absolute path on success, or an error
// wrapping ErrPathTraversal.
//
// The target file itself may not exist yet; containment is checked against
// the deepest existing ancestor so a symlinked parent cannot smuggle the
// file outside the allow-list.
func ValidateFilePath(path string, allowedDirs []string) (string, error) {
	if path == "" {
		return "", &FieldError{Field: "path", Reason: "cannot be empty"}
	}
	if len(allowedDirs) == 0 {
		return "", fmt.Errorf("%w: no allowed directories configured", ErrPathTraversal)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}

	for _, dir := range allowedDirs {
		base, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		// Resolve the base too so both sides of the comparison use
		// physical paths.
		if realBase, err := filepath.EvalSymlinks(base); err == nil {
			base = realBase
		}
		if within(resolved, base) {
			return abs, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
}

// resolveExisting resolves symlinks on the deepest existing ancestor of abs
// and rejoins the non-existing remainder.
func resolveExisting(abs string) (string, error) {
	existing := abs
	var tail []string

	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}

	if len(tail) > 0 {
		resolved = filepath.Join(append([]string{resolved}, tail...)...)
	}
	return resolved, nil
}

// within reports whether path is base or a descendant of base.
func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
