package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// Repositories run against Tx when set and fall back to their own handle
// otherwise, so callers can group writes without a separate repo API.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// From wraps a request context with no transaction attached.
func From(ctx context.Context) Context {
	return Context{Ctx: ctx}
}
