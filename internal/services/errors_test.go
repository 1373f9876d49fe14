package services_test

import (
	"errors"
	"strings"
	"testing"

	"tafkit/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrRemote, "urlimport", "download", "video unavailable", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrRemote) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"urlimport", "download", "video unavailable", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, services.KindUnknown},
		{"validation", services.Wrap(services.ErrValidation, "registry", "add", "too many files", nil), services.KindValidation},
		{"remote", services.Wrap(services.ErrRemote, "api", "encode", "", nil), services.KindRemote},
		{"transport", services.Wrap(services.ErrTransport, "api", "upload", "", errors.New("dial")), services.KindTransport},
		{"stale", services.Wrap(services.ErrStale, "events", "dispatch", "", nil), services.KindStale},
		{"plain", errors.New("other"), services.KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestReasonPrefersServerMessage(t *testing.T) {
	err := services.Wrap(services.ErrRemote, "api", "urlFetch", "Video unavailable", nil)
	if got := services.Reason(err, "Download failed"); got != "Video unavailable" {
		t.Fatalf("unexpected reason %q", got)
	}
	plain := errors.New("connection refused")
	if got := services.Reason(plain, "Download failed"); got != "connection refused" {
		t.Fatalf("unexpected reason %q", got)
	}
	if got := services.Reason(nil, "Download failed"); got != "Download failed" {
		t.Fatalf("unexpected fallback %q", got)
	}
	blank := services.Wrap(services.ErrRemote, "", "", "", nil)
	if got := services.Reason(blank, "x"); got == "" {
		t.Fatal("expected non-empty reason")
	}
}
