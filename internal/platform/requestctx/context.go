package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/printloom/api/internal/platform/requestctx/logger"
	shopContextKey   contextKey = "github.com/printloom/api/internal/platform/requestctx/shop"
)

var noopLogger = zap.NewNop()

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithShopDomain records the tenant shop domain resolved for the request.
func WithShopDomain(ctx context.Context, shop string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, shopContextKey, shop)
}

// ShopDomain returns the tenant shop domain associated with the request, if any.
func ShopDomain(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if shop, ok := ctx.Value(shopContextKey).(string); ok {
		return shop
	}
	return ""
}
