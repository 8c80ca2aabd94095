package actor

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestResolvePrefersExplicit(t *testing.T) {
	ctxUser := uuid.New()
	explicit := uuid.New()
	ctx := With(context.Background(), Actor{UserID: ctxUser, Role: RoleSeller})

	if got := Resolve(ctx, &explicit); got == nil || *got != explicit {
		t.Fatalf("expected explicit id, got %v", got)
	}
	if got := Resolve(ctx, nil); got == nil || *got != ctxUser {
		t.Fatalf("expected context id, got %v", got)
	}
	if got := Resolve(context.Background(), nil); got != nil {
		t.Fatalf("expected nil without actor, got %v", got)
	}
}

func TestFromMissing(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Fatal("expected no actor")
	}
}
