package httputil

import (
	"net/http/httptest"
	"testing"
)

func TestParseQueryInt(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"absent", "", 25},
		{"valid", "offset=3", 3},
		{"zero", "offset=0", 0},
		{"malformed", "offset=abc", 25},
		{"negative", "offset=-1", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/deliveries?"+tt.query, nil)
			if got := ParseQueryInt(r, "offset", 25); got != tt.want {
				t.Errorf("ParseQueryInt(%q) = %d, want %d", tt.query, got, tt.want)
			}
		})
	}
}
