package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	return exporter
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string)
	for _, a := range s.Attributes() {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

func TestTraceQuery_Success(t *testing.T) {
	exporter := setupTestTracer(t)

	_, end := TraceQuery(context.Background(), "ListReviews", "SELECT id FROM reviews WHERE coach_id = $1")
	end(nil)

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.ListReviews", spans[0].Name())

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "postgresql", attrs["db.system"])
	assert.Equal(t, "ListReviews", attrs["db.operation"])
	assert.Equal(t, "SELECT id FROM reviews WHERE coach_id = $1", attrs["db.statement"])
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTraceQuery_Error(t *testing.T) {
	exporter := setupTestTracer(t)

	_, end := TraceQuery(context.Background(), "SaveAggregate", "INSERT INTO coaches ...")
	end(errors.New("connection refused"))

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events())
}

func TestTraceQuery_ChildOfParent(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "recompute")
	_, end := TraceQuery(ctx, "ListReviews", "SELECT 1")
	end(nil)
	parent.End()

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestSlowQueryLogging(t *testing.T) {
	setupTestTracer(t)

	tests := []struct {
		name      string
		threshold time.Duration
		err       error
		wantLog   bool
	}{
		{"slow query logged", time.Nanosecond, nil, true},
		{"slow failed query logs error", time.Nanosecond, errors.New("unique constraint violation"), true},
		{"fast query not logged", time.Hour, nil, false},
		{"disabled", 0, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetSlowQueryLogging(tt.threshold, slog.New(slog.NewJSONHandler(&buf, nil)))
			t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

			_, end := TraceQuery(context.Background(), "ListReviews", "SELECT * FROM reviews")
			end(tt.err)

			if !tt.wantLog {
				assert.NotContains(t, buf.String(), "slow query detected")
				return
			}
			assert.Contains(t, buf.String(), "slow query detected")
			assert.Contains(t, buf.String(), "ListReviews")
			if tt.err != nil {
				assert.Contains(t, buf.String(), tt.err.Error())
			}
		})
	}
}

func TestSetSlowQueryLogging_Concurrent(t *testing.T) {
	setupTestTracer(t)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetSlowQueryLogging(time.Hour, slog.Default())
		}()
		go func() {
			defer wg.Done()
			_, end := TraceQuery(context.Background(), "Op", "SELECT 1")
			end(nil)
		}()
	}
	wg.Wait()
}
