package auth

import (
	"errors"
	"testing"

	"signalwars/internal/domain"
)

func TestRequireAuthority(t *testing.T) {
	arena := domain.Arena{Authority: "root"}
	if err := RequireAuthority(arena, "root"); err != nil {
		t.Fatalf("expected authority to pass: %v", err)
	}
	err := RequireAuthority(arena, "mallory")
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Capability != CapAuthority {
		t.Fatalf("expected forbidden authority, got %v", err)
	}
	if err := RequireAuthority(domain.Arena{}, ""); err == nil {
		t.Fatalf("empty actor must never match an empty authority")
	}
}

func TestRequireOwner(t *testing.T) {
	agent := domain.Agent{Owner: "alice"}
	if err := RequireOwner(agent, "alice"); err != nil {
		t.Fatalf("expected owner to pass: %v", err)
	}
	if err := RequireOwner(agent, "bob"); err == nil {
		t.Fatalf("expected forbidden")
	}
}
