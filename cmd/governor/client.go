// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// =============================================================================
// SERVICE ADDRESS
// =============================================================================

// serverBase resolves the governance service base URL. Flag wins over
// environment, environment wins over the local default.
func serverBase() string {
	if cliServer != "" {
		return strings.TrimRight(cliServer, "/")
	}
	if env := getEnvString("ALEUTIAN_GOVERNANCE_SERVER", ""); env != "" {
		return strings.TrimRight(env, "/")
	}
	port := getEnvInt("ALEUTIAN_GOVERNANCE_PORT", 12280)
	return fmt.Sprintf("http://localhost:%d", port)
}

// apiURL joins the base URL with a governance API path.
func apiURL(path string) string {
	return serverBase() + "/v1/governance" + path
}

// getEnvString returns the environment variable or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// apiGet fetches a governance API path and decodes the JSON body into out.
func apiGet(path string, out interface{}) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(apiURL(path))
	if err != nil {
		return fmt.Errorf("failed to reach governance service at %s: %w", serverBase(), err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

// apiPost sends a JSON body to a governance API path and decodes the
// response into out.
func apiPost(path string, body interface{}, out interface{}) error {
	postBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(apiURL(path), "application/json", bytes.NewBuffer(postBody))
	if err != nil {
		return fmt.Errorf("failed to reach governance service at %s: %w", serverBase(), err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

// decodeAPIResponse turns a non-2xx status into an error carrying the
// service's error code, and otherwise decodes the body into out.
func decodeAPIResponse(resp *http.Response, out interface{}) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr governance.ErrorResponse
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("governance service returned status %d: %s",
			resp.StatusCode, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// =============================================================================
// FLAG PARSING HELPERS
// =============================================================================

// metricsFromFlags builds a metric snapshot from the four metric flags.
// Prefix selects the flag family, "" for current metrics and "baseline-"
// for the baseline snapshot. Only flags the user actually set become
// non-nil fields, so the service can tell "0" from "absent".
func metricsFromFlags(cmd *cobra.Command, prefix string) (datatypes.Metrics, error) {
	var m datatypes.Metrics
	for name, field := range map[string]**float64{
		prefix + "quality":     &m.QualityScore,
		prefix + "cost":        &m.CostPerItem,
		prefix + "latency":     &m.LatencyMs,
		prefix + "duplication": &m.DuplicationRate,
	} {
		if !cmd.Flags().Changed(name) {
			continue
		}
		value, err := cmd.Flags().GetFloat64(name)
		if err != nil {
			return datatypes.Metrics{}, fmt.Errorf("invalid --%s: %w", name, err)
		}
		*field = datatypes.Float64Ptr(value)
	}
	return m, nil
}

// registerMetricFlags adds the four metric flags with an optional prefix.
func registerMetricFlags(cmd *cobra.Command, prefix, suffix string) {
	cmd.Flags().Float64(prefix+"quality", 0, "Quality score"+suffix)
	cmd.Flags().Float64(prefix+"cost", 0, "Cost per item"+suffix)
	cmd.Flags().Float64(prefix+"latency", 0, "Latency in milliseconds"+suffix)
	cmd.Flags().Float64(prefix+"duplication", 0, "Duplication rate"+suffix)
}

// parseNumericAssignments parses repeated "name=value" flags into a map.
func parseNumericAssignments(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric value in %q: %w", pair, err)
		}
		out[name] = value
	}
	return out, nil
}

// parseBoolAssignments parses repeated "name=value" flags into a bool map.
func parseBoolAssignments(pairs []string) (map[string]bool, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean value in %q: %w", pair, err)
		}
		out[name] = value
	}
	return out, nil
}
