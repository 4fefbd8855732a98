package sdk

import "context"

type contextKey string

const snapshotKey contextKey = "storefront-session-snapshot"

// WithSnapshot stores the admitted session snapshot in ctx.
func WithSnapshot(ctx context.Context, snap SessionSnapshot) context.Context {
	return context.WithValue(ctx, snapshotKey, snap)
}

// SnapshotFromContext returns the snapshot a RouteGuard admitted the request with.
func SnapshotFromContext(ctx context.Context) (SessionSnapshot, bool) {
	snap, ok := ctx.Value(snapshotKey).(SessionSnapshot)
	return snap, ok
}
