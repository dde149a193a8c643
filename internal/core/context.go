package core

import "context"

type contextKey string

const ctxKeyWorkspaceID contextKey = "workspace_id"

// ContextWithWorkspaceID stores the session's workspace id.
func ContextWithWorkspaceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyWorkspaceID, id)
}

// WorkspaceIDFromContext returns the workspace id, or "" if none is set.
func WorkspaceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyWorkspaceID).(string); ok {
		return v
	}
	return ""
}
