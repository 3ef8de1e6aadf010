package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
	ctxBearer
)

var ErrNoCredential = errors.New("auth: no bearer credential")

func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

// WithBearer stores the raw bearer so downstream backend calls can forward it.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxBearer, token)
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

func Bearer(ctx context.Context) (string, error) {
	v := ctx.Value(ctxBearer)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoCredential
}
