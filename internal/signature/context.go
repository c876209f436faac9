package signature

import "context"

type resultKey struct{}

// WithResult attaches a verification result to ctx.
func WithResult(ctx context.Context, result *Result) context.Context {
	return context.WithValue(ctx, resultKey{}, result)
}

// ResultFromContext returns the result attached by WithResult.
func ResultFromContext(ctx context.Context) (*Result, bool) {
	result, ok := ctx.Value(resultKey{}).(*Result)
	return result, ok && result != nil
}
