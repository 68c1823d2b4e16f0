package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"gradi/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "recognition", "download", "fetch image", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"recognition", "download", "fetch image", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestDispositionMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Disposition
	}{
		{"nil", nil, services.DispositionDrop},
		{"validation", services.Wrap(services.ErrValidation, "roster", "decode", "missing downloadUrl", nil), services.DispositionDrop},
		{"not ready", services.Wrap(services.ErrNotReady, "recognition", "roster", "not loaded", nil), services.DispositionWait},
		{"transient", services.Wrap(services.ErrTransient, "recognition", "publish", "send", errors.New("io")), services.DispositionRetry},
		{"plain", errors.New("unexpected"), services.DispositionRetry},
		{"wrapped validation", fmt.Errorf("outer: %w", services.ErrValidation), services.DispositionDrop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.DispositionFor(tc.err); got != tc.want {
				t.Fatalf("DispositionFor = %s, want %s", got, tc.want)
			}
		})
	}
}
