// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided identifiers that end
// up in file names, append-only logs, or policy documents. Using these
// validators prevents path traversal and keeps identifiers that are later
// mined from logs free of control characters and injection payloads.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches safe identifiers.
// Allows: letters, digits, dots (namespaced names), hyphens, underscores
// Must start with a letter or digit. Max length: 128 characters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName validates an identifier used as a file name component or
// recorded into an append-only log.
//
// Valid identifiers:
//   - 1-128 characters
//   - Letters A-Z, a-z and digits 0-9
//   - Dots (.), hyphens (-), underscores (_) after the first character
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateName(policyName); err != nil {
//	    return fmt.Errorf("invalid policy name: %w", err)
//	}
//	// Safe to use as a file name component
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q (must be 1-128 alphanumeric chars, dots, hyphens, or underscores, starting alphanumeric)", name)
	}

	return nil
}

// ValidateNames validates multiple identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %v", invalid)
	}
	return nil
}

// SanitizeName trims surrounding whitespace and validates the result.
// Case is preserved: policy and session names are case-sensitive.
//
// Use this when accepting identifiers from interactive input:
//
//	name, err := validation.SanitizeName(userInput)
//	if err != nil {
//	    return err
//	}
//	// name is trimmed and validated
func SanitizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
