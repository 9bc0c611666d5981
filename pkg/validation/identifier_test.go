package validation

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"simple", "quality-floor", false},
		{"single char", "a", false},
		{"with digits", "run-2208", false},
		{"namespaced", "gates.checkout.v2", false},
		{"underscored", "symmetry_engine", false},
		{"mixed case", "SessionA", false},
		{"max length", strings.Repeat("a", 128), false},

		// Invalid identifiers - traversal and injection attempts
		{"empty", "", true},
		{"path traversal", "../../etc/passwd", true},
		{"dot dot", "..", true},
		{"forward slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"null byte", "sess\x00", true},
		{"newline injection", "name\n{}", true},
		{"spaces", "a b", true},
		{"starts with dot", ".hidden", true},
		{"starts with hyphen", "-flag", true},
		{"too long", strings.Repeat("a", 129), true},
		{"unicode", "séssion", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNames(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"all valid", []string{"quality-floor", "cost-ceiling", "drift-guard"}, false},
		{"one invalid", []string{"quality-floor", "../bad", "drift-guard"}, true},
		{"all invalid", []string{"", ".."}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNames(tt.ids)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNames(%v) error = %v, wantErr %v", tt.ids, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"passthrough", "quality-floor", "quality-floor", false},
		{"spaces trimmed", "  quality-floor  ", "quality-floor", false},
		{"case preserved", "SessionA", "SessionA", false},
		{"inner space rejected", "quality floor", "", true},
		{"traversal rejected", "../bad", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeName(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeName(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
