package api

import (
	"net/http/httptest"
	"testing"

	"similarusers/internal/config"
	"similarusers/internal/logging"
)

func TestNormalizeUserText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice", "Alice"},
		{"Alice", "Alice"},
		{"isaac (WMF)", "Isaac_(WMF)"},
		{"a b c", "A_b_c"},
		{"192.0.2.17", "192.0.2.17"},
		{"über", "Über"},
	}
	for _, c := range cases {
		if got := NormalizeUserText(c.in); got != c.want {
			t.Errorf("NormalizeUserText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseQueryParams(t *testing.T) {
	s := &Server{cfg: config.DefaultConfig(), logger: logging.Discard()}

	t.Run("user prefix is stripped case-insensitively", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/similarusers?usertext=uSeR:alice", nil)
		params, serr := s.ParseQueryParams(req)
		if serr != nil {
			t.Fatalf("Unexpected error: %v", serr)
		}
		if params.UserText != "Alice" {
			t.Errorf("Expected Alice, got %q", params.UserText)
		}
	})

	t.Run("non-numeric k falls back to the default", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/similarusers?usertext=Alice&k=lots", nil)
		params, serr := s.ParseQueryParams(req)
		if serr != nil {
			t.Fatalf("Unexpected error: %v", serr)
		}
		if params.NumSimilar != s.cfg.Query.DefaultK {
			t.Errorf("Expected default k %d, got %d", s.cfg.Query.DefaultK, params.NumSimilar)
		}
	})

	t.Run("k is clamped to its bounds", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/similarusers?usertext=Alice&k=0", nil)
		params, _ := s.ParseQueryParams(req)
		if params.NumSimilar != 1 {
			t.Errorf("Expected k clamped to 1, got %d", params.NumSimilar)
		}

		req = httptest.NewRequest("GET", "/similarusers?usertext=Alice&k=100000", nil)
		params, _ = s.ParseQueryParams(req)
		if params.NumSimilar != 250 {
			t.Errorf("Expected k clamped to 250, got %d", params.NumSimilar)
		}
	})

	t.Run("followup flag needs no value", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/similarusers?usertext=Alice&followup", nil)
		params, _ := s.ParseQueryParams(req)
		if !params.Followup {
			t.Error("Expected followup to be set")
		}

		req = httptest.NewRequest("GET", "/similarusers?usertext=Alice", nil)
		params, _ = s.ParseQueryParams(req)
		if params.Followup {
			t.Error("Expected followup to be unset")
		}
	})
}
