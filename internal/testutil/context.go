package testutil

import (
	"context"
	"testing"
)

// ContextWithCancel returns a cancellable context that is cancelled at
// the end of the test if the test has not done so already.
func ContextWithCancel(t testing.TB) (context.Context, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return ctx, cancel
}
