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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// TestServerBase tests the flag > environment > default resolution order.
func TestServerBase(t *testing.T) {
	savedServer := cliServer
	defer func() { cliServer = savedServer }()

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv("ALEUTIAN_GOVERNANCE_SERVER", "http://env.example:9999")
		cliServer = "http://flag.example:8000"
		if got := serverBase(); got != "http://flag.example:8000" {
			t.Errorf("serverBase() = %s, want http://flag.example:8000", got)
		}
	})

	t.Run("flag trailing slash trimmed", func(t *testing.T) {
		cliServer = "http://flag.example:8000/"
		if got := serverBase(); got != "http://flag.example:8000" {
			t.Errorf("serverBase() = %s, want http://flag.example:8000", got)
		}
	})

	t.Run("environment when no flag", func(t *testing.T) {
		cliServer = ""
		t.Setenv("ALEUTIAN_GOVERNANCE_SERVER", "http://env.example:9999")
		if got := serverBase(); got != "http://env.example:9999" {
			t.Errorf("serverBase() = %s, want http://env.example:9999", got)
		}
	})

	t.Run("port environment in default", func(t *testing.T) {
		cliServer = ""
		t.Setenv("ALEUTIAN_GOVERNANCE_SERVER", "")
		t.Setenv("ALEUTIAN_GOVERNANCE_PORT", "23456")
		if got := serverBase(); got != "http://localhost:23456" {
			t.Errorf("serverBase() = %s, want http://localhost:23456", got)
		}
	})

	t.Run("default", func(t *testing.T) {
		cliServer = ""
		t.Setenv("ALEUTIAN_GOVERNANCE_SERVER", "")
		t.Setenv("ALEUTIAN_GOVERNANCE_PORT", "")
		if got := serverBase(); got != "http://localhost:12280" {
			t.Errorf("serverBase() = %s, want http://localhost:12280", got)
		}
	})
}

// TestAPIURL tests path joining with the API prefix.
func TestAPIURL(t *testing.T) {
	savedServer := cliServer
	defer func() { cliServer = savedServer }()
	cliServer = "http://gov.example:9000"

	got := apiURL("/ledger/verify")
	want := "http://gov.example:9000/v1/governance/ledger/verify"
	if got != want {
		t.Errorf("apiURL() = %s, want %s", got, want)
	}
}

// TestDecodeAPIResponse_ServiceError tests that service error bodies
// surface the error code.
func TestDecodeAPIResponse_ServiceError(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       io.NopCloser(strings.NewReader(`{"error":"invalid gate result","code":"INVALID_GATE_RESULT"}`)),
	}

	err := decodeAPIResponse(resp, nil)
	if err == nil {
		t.Fatal("Expected error for 422 response")
	}
	if !strings.Contains(err.Error(), "invalid gate result") {
		t.Errorf("Error = %q, want it to contain the service message", err.Error())
	}
	if !strings.Contains(err.Error(), "INVALID_GATE_RESULT") {
		t.Errorf("Error = %q, want it to contain the error code", err.Error())
	}
}

// TestDecodeAPIResponse_NonJSONError tests fallback for non-JSON error bodies.
func TestDecodeAPIResponse_NonJSONError(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusInternalServerError,
		Body:       io.NopCloser(strings.NewReader("boom")),
	}

	err := decodeAPIResponse(resp, nil)
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Error = %q, want it to contain the status code", err.Error())
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Error = %q, want it to contain the raw body", err.Error())
	}
}

// TestDecodeAPIResponse_Success tests body decoding on a 200.
func TestDecodeAPIResponse_Success(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"session_id":"run-1","reset":true}`)),
	}

	var out struct {
		SessionID string `json:"session_id"`
		Reset     bool   `json:"reset"`
	}
	if err := decodeAPIResponse(resp, &out); err != nil {
		t.Fatalf("decodeAPIResponse failed: %v", err)
	}
	if out.SessionID != "run-1" || !out.Reset {
		t.Errorf("Decoded = %+v, want session run-1 reset", out)
	}
}

// TestDecodeAPIResponse_NilOut tests that a nil target skips decoding.
func TestDecodeAPIResponse_NilOut(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("not json")),
	}

	if err := decodeAPIResponse(resp, nil); err != nil {
		t.Errorf("decodeAPIResponse with nil out = %v, want nil", err)
	}
}

// TestMetricsFromFlags tests pointer semantics: only changed flags are set.
func TestMetricsFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	registerMetricFlags(cmd, "", "")

	if err := cmd.Flags().Set("quality", "0.93"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}
	if err := cmd.Flags().Set("latency", "120.5"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}

	metrics, err := metricsFromFlags(cmd, "")
	if err != nil {
		t.Fatalf("metricsFromFlags failed: %v", err)
	}

	if metrics.QualityScore == nil || *metrics.QualityScore != 0.93 {
		t.Errorf("QualityScore = %v, want 0.93", metrics.QualityScore)
	}
	if metrics.LatencyMs == nil || *metrics.LatencyMs != 120.5 {
		t.Errorf("LatencyMs = %v, want 120.5", metrics.LatencyMs)
	}
	if metrics.CostPerItem != nil {
		t.Errorf("CostPerItem = %v, want nil for an unset flag", metrics.CostPerItem)
	}
	if metrics.DuplicationRate != nil {
		t.Errorf("DuplicationRate = %v, want nil for an unset flag", metrics.DuplicationRate)
	}
}

// TestMetricsFromFlags_BaselinePrefix tests the baseline flag family.
func TestMetricsFromFlags_BaselinePrefix(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	registerMetricFlags(cmd, "baseline-", " baseline")

	if err := cmd.Flags().Set("baseline-cost", "0.50"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}

	metrics, err := metricsFromFlags(cmd, "baseline-")
	if err != nil {
		t.Fatalf("metricsFromFlags failed: %v", err)
	}

	if metrics.CostPerItem == nil || *metrics.CostPerItem != 0.50 {
		t.Errorf("CostPerItem = %v, want 0.50", metrics.CostPerItem)
	}
	if metrics.QualityScore != nil {
		t.Errorf("QualityScore = %v, want nil for an unset flag", metrics.QualityScore)
	}
}

// TestParseNumericAssignments tests the --var parser.
func TestParseNumericAssignments(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]float64
		wantErr bool
	}{
		{
			name:  "valid pairs",
			pairs: []string{"volume=250", "rate=0.5"},
			want:  map[string]float64{"volume": 250, "rate": 0.5},
		},
		{
			name:  "empty input",
			pairs: nil,
			want:  nil,
		},
		{
			name:    "missing equals",
			pairs:   []string{"volume"},
			wantErr: true,
		},
		{
			name:    "empty name",
			pairs:   []string{"=5"},
			wantErr: true,
		},
		{
			name:    "non-numeric value",
			pairs:   []string{"volume=high"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNumericAssignments(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

// TestParseBoolAssignments tests the --flag parser.
func TestParseBoolAssignments(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]bool
		wantErr bool
	}{
		{
			name:  "valid pairs",
			pairs: []string{"enabled=true", "dry_run=false"},
			want:  map[string]bool{"enabled": true, "dry_run": false},
		},
		{
			name:  "numeric booleans",
			pairs: []string{"enabled=1"},
			want:  map[string]bool{"enabled": true},
		},
		{
			name:  "empty input",
			pairs: nil,
			want:  nil,
		},
		{
			name:    "missing equals",
			pairs:   []string{"enabled"},
			wantErr: true,
		},
		{
			name:    "non-boolean value",
			pairs:   []string{"enabled=maybe"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBoolAssignments(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

// TestGetEnvString tests environment lookup with defaults.
func TestGetEnvString(t *testing.T) {
	t.Setenv("GOVERNOR_TEST_STRING", "set")
	if got := getEnvString("GOVERNOR_TEST_STRING", "fallback"); got != "set" {
		t.Errorf("getEnvString = %s, want set", got)
	}
	if got := getEnvString("GOVERNOR_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnvString = %s, want fallback", got)
	}
}

// TestGetEnvInt tests integer environment lookup with defaults.
func TestGetEnvInt(t *testing.T) {
	t.Setenv("GOVERNOR_TEST_INT", "8080")
	if got := getEnvInt("GOVERNOR_TEST_INT", 1); got != 8080 {
		t.Errorf("getEnvInt = %d, want 8080", got)
	}
	t.Setenv("GOVERNOR_TEST_BAD", "not-a-number")
	if got := getEnvInt("GOVERNOR_TEST_BAD", 7); got != 7 {
		t.Errorf("getEnvInt = %d, want 7 for unparseable value", got)
	}
	if got := getEnvInt("GOVERNOR_TEST_INT_MISSING", 42); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}
}
