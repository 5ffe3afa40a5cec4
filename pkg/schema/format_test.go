package schema

import "testing"

func TestFormats(t *testing.T) {
	tests := []struct {
		format string
		value  string
		valid  bool
	}{
		{"date-time", "2024-05-01T10:00:00Z", true},
		{"date-time", "2024-05-01T10:00:00.123+02:00", true},
		{"date-time", "2024-05-01 10:00", false},
		{"date", "2024-02-29", true},
		{"date", "2023-02-29", false},
		{"time", "10:00:00Z", true},
		{"time", "25:00:00", false},
		{"email", "ada@example.com", true},
		{"email", "Ada <ada@example.com>", false},
		{"uri", "https://example.com/a?b=c", true},
		{"uri", "/relative/path", false},
		{"uuid", "123E4567-e89b-12d3-a456-426614174000", true},
		{"uuid", "123e4567e89b12d3a456426614174000", false},
		{"ipv4", "192.168.0.1", true},
		{"ipv4", "::1", false},
		{"ipv6", "::1", true},
		{"ipv6", "10.0.0.1", false},
		{"hostname", "api.example.com", true},
		{"hostname", "-bad.example.com", false},
	}
	for _, tt := range tests {
		check, ok := formats[tt.format]
		if !ok {
			t.Fatalf("schema:format_test - no checker for %s", tt.format)
		}
		if got := check(tt.value); got != tt.valid {
			t.Errorf("schema:format_test - %s(%q): expected %v, got %v", tt.format, tt.value, tt.valid, got)
		}
	}
}
