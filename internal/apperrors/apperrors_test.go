package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	cause := errors.New("row missing")
	err := fmt.Errorf("wrapped: %w", New(KindNotFound, "channels.remove_member", "target_not_member", "member not found", cause))

	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found kind, got %s", KindOf(err))
	}
	if CodeOf(err) != "channels.remove_member.target_not_member" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("expected unclassified errors to be internal")
	}
	if CodeOf(nil) != "" {
		t.Fatalf("expected empty code for nil")
	}
}
