package actor

import (
	"context"

	"github.com/google/uuid"
)

// Role identifies who is acting on an order.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the authenticated identity attached by the transport layer.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

type ctxKey struct{}

// With attaches the actor to ctx.
func With(ctx context.Context, a Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, a)
}

// From returns the actor attached to ctx, if any.
func From(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}

// Resolve prefers an explicit id and falls back to the context actor.
func Resolve(ctx context.Context, explicit *uuid.UUID) *uuid.UUID {
	if explicit != nil && *explicit != uuid.Nil {
		return explicit
	}
	if a, ok := From(ctx); ok && a.UserID != uuid.Nil {
		id := a.UserID
		return &id
	}
	return nil
}

// System is the actor used by scheduled jobs.
func System() Actor {
	return Actor{Role: RoleSystem}
}
