// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
)

// ActionPrefix marks a policy constraint as an action directive rather than
// a boolean condition. Directives are collected as identifiers during
// evaluation and never executed by the kernel.
const ActionPrefix = "action:"

// Policy is a named governance rule. Its non-action constraints form a
// conjunctive boolean condition over metric and context variables; its
// action directives name what an authorized executor may do when the
// condition holds.
type Policy struct {
	// Name uniquely identifies the policy within a rule set.
	Name string `yaml:"name" json:"name"`

	// Description explains the policy's intent for operators.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Enabled gates whether the policy participates in evaluation.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Priority orders policies during evaluation; higher runs first.
	Priority int `yaml:"priority" json:"priority"`

	// Constraints holds boolean condition expressions plus "action:" tagged
	// directives. Conditions are joined with logical AND.
	Constraints []string `yaml:"constraints" json:"constraints"`

	// Annotations carries advisory key/value markers attached by feedback
	// components, e.g. "adaptive_threshold" -> "true".
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Conditions returns the constraints that are boolean expressions, in
// declaration order.
func (p Policy) Conditions() []string {
	var conditions []string
	for _, c := range p.Constraints {
		if !strings.HasPrefix(strings.TrimSpace(c), ActionPrefix) {
			conditions = append(conditions, c)
		}
	}
	return conditions
}

// Actions returns the action identifiers declared by "action:" constraints,
// with the prefix stripped and surrounding whitespace trimmed.
func (p Policy) Actions() []string {
	var actions []string
	for _, c := range p.Constraints {
		trimmed := strings.TrimSpace(c)
		if strings.HasPrefix(trimmed, ActionPrefix) {
			actions = append(actions, strings.TrimSpace(strings.TrimPrefix(trimmed, ActionPrefix)))
		}
	}
	return actions
}

// Validate checks the structural invariants a policy must satisfy before it
// can be stored or evaluated.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("policy name must not be empty")
	}
	if len(p.Constraints) == 0 {
		return fmt.Errorf("policy %q has no constraints", p.Name)
	}
	for i, c := range p.Constraints {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("policy %q constraint %d is empty", p.Name, i)
		}
	}
	return nil
}
