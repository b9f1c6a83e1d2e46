package inner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
)

func TestInternalMiddlewareChainOrder(t *testing.T) {
	calls := []string{}
	mark := func(name string) InternalMiddleware {
		return func(next InternalMiddlewareFn) InternalMiddlewareFn {
			return func(ctx context.Context) (interface{}, error) {
				calls = append(calls, name)

				return next(ctx)
			}
		}
	}

	retVal, err := InternalMiddlewareChain(mark("first"), mark("second"), mark("third"))(
		func(ctx context.Context) (interface{}, error) {
			calls = append(calls, "fn")

			return "done", nil
		},
	)(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "done", retVal)
	assert.Equal(t, []string{"first", "second", "third", "fn"}, calls)
}

func TestTryCatch(t *testing.T) {
	_, err := TryCatch()(func(ctx context.Context) (interface{}, error) {
		panic("boom")
	})(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "boom")
}

func TestSemAcquire(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	require.True(t, sem.TryAcquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	_, err := SemAcquire(sem)(func(ctx context.Context) (interface{}, error) {
		called = true

		return nil, nil
	})(ctx)

	assert.ErrorIs(t, err, ErrSemAcquire)
	assert.False(t, called)

	sem.Release(1)
	_, err = SemAcquire(sem)(func(ctx context.Context) (interface{}, error) {
		called = true

		return nil, nil
	})(context.Background())
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, sem.TryAcquire(1), "released after the call")
}

func TestLoggerSpanMetrics(t *testing.T) {
	log := logger.GetLogger(t.Name())
	ctx := logger.NewContext(context.Background(), log)
	meter := middleware.GetMeter(log)

	retVal, err := InternalMiddlewareChain(
		TryCatch(),
		Logger(map[string]string{"test": t.Name()}, 1, 1),
		Span(trace.NewNoopTracerProvider().Tracer(t.Name()), "test", trace.SpanKindInternal),
		Metrics(ctx, meter, "inner_test", "inner middleware test", map[string]string{"test": "yes"}, middleware.FirstErr),
	)(func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})(ctx)

	require.NoError(t, err)
	assert.Equal(t, 42, retVal)
}
