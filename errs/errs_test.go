package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesMetadataAndCause(t *testing.T) {
	err := New(
		"replay",
		CodeNetwork,
		WithHTTP(502),
		WithMessage("deliver queued play"),
		WithMetadata(map[string]string{
			"category": "plays",
			"endpoint": "/api/play",
		}),
		WithField("entry_id", "42"),
		WithCause(errors.New("connection refused")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=replay") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=network") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "http=502") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	expectedMeta := "meta=category=\"plays\",endpoint=\"/api/play\",entry_id=\"42\""
	if !strings.Contains(out, expectedMeta) {
		t.Fatalf("expected metadata %q in error string: %s", expectedMeta, out)
	}
	if !strings.Contains(out, "cause=\"connection refused\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithMetadataMerge(t *testing.T) {
	err := New(
		"cache",
		CodeStore,
		WithMetadata(map[string]string{"generation": "claw-pizza-v1"}),
		WithMetadata(map[string]string{"generation": "claw-pizza-v2", "key": "GET /"}),
	)

	if got := err.Metadata["generation"]; got != "claw-pizza-v2" {
		t.Fatalf("expected latest metadata to win, got %q", got)
	}
	if got := err.Metadata["key"]; got != "GET /" {
		t.Fatalf("expected key metadata to be present, got %q", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("queue", CodeStore, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Fatalf("expected empty code for nil error, got %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty code for plain error, got %q", got)
	}
	if got := CodeOf(New("router", CodeInvalid)); got != CodeInvalid {
		t.Fatalf("expected invalid_request, got %q", got)
	}
}
