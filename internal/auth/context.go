// SPDX-License-Identifier: Apache-2.0

package auth

import "context"

type idempotencyKeyContextKey struct{}

var ctxIdempotencyKey idempotencyKeyContextKey

// WithIdempotencyKey stores the caller-supplied dedup key for a
// start-workflow request on the context.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxIdempotencyKey, key)
}

func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxIdempotencyKey)
	key, ok := v.(string)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
