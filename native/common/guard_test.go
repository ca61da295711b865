package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "rewards"); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
	pauses := StaticPauses{"router": true}
	if err := Guard(pauses, "rewards"); err != nil {
		t.Fatalf("rewards should not be paused: %v", err)
	}
	if err := Guard(pauses, "router"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
