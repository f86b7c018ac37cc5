package main

import "testing"

func TestEnvOr(t *testing.T) {
	if got := envOr("MEET_API_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected the fallback, got %q", got)
	}

	t.Setenv("WEB_URL", "https://meet.example.com")
	if got := envOr("WEB_URL", "fallback"); got != "https://meet.example.com" {
		t.Errorf("expected the env value, got %q", got)
	}
}
