package utils

import (
	"context"
)

type contextKey string

const (
	ContextKeyUserId        contextKey = "user_id"
	ContextKeyUserName      contextKey = "user_name"
	ContextKeyTenantKind    contextKey = "tenant_kind"
	ContextKeyTenantId      contextKey = "tenant_id"
	ContextKeyCorrelationId contextKey = "correlation_id"
)

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func getInt(ctx context.Context, key contextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return getInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyUserName)
}

// GetTenantFromContext resolves the calling tenant (kind + id) set by the
// auth middleware. Admin/back-office requests carry no tenant.
func GetTenantFromContext(ctx context.Context) (string, int, bool) {
	kind, ok := getString(ctx, ContextKeyTenantKind)
	if !ok || kind == "" {
		return "", 0, false
	}
	id, ok := getInt(ctx, ContextKeyTenantId)
	if !ok || id <= 0 {
		return "", 0, false
	}
	return kind, id, true
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyCorrelationId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return context.WithValue(ctx, ContextKeyUserName, userName)
}

func SetTenantInContext(ctx context.Context, tenantKind string, tenantId int) context.Context {
	ctx = context.WithValue(ctx, ContextKeyTenantKind, tenantKind)
	return context.WithValue(ctx, ContextKeyTenantId, tenantId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}
