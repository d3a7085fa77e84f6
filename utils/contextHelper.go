package utils

import (
	"context"
)

type contextKey string

const (
	contextKeyToken         contextKey = "Token"
	contextKeyUsername      contextKey = "Username"
	contextKeyUserId        contextKey = "UserId"
	contextKeyUserName      contextKey = "UserName"
	contextKeyCorrelationId contextKey = "CorrelationId"
)

func fromContext[T any](ctx context.Context, key contextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, contextKeyToken)
}

// GetUsernameFromContext returns the login name; see GetUserNameFromContext for the display name.
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, contextKeyUsername)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return fromContext[int](ctx, contextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, contextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, contextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKeyToken, token)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, contextKeyUsername, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, contextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return context.WithValue(ctx, contextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, contextKeyCorrelationId, correlationId)
}

// SetActorInContext sets the user id and display name the counting service records as actor.
func SetActorInContext(ctx context.Context, userId int, userName string) context.Context {
	return SetUserNameInContext(SetUserIdInContext(ctx, userId), userName)
}
