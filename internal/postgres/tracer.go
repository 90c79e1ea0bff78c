package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// storePackage is where the query-issuing store methods live.
const storePackage = "github.com/linnemanlabs/wardwatch/internal/triage/pgstore."

type queryStartKey struct{}

type queryInfo struct {
	sql       string
	nargs     int
	start     time.Time
	operation string
}

// QueryObserver receives per-query timings (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration) {
	f(ctx, operation, outcome, dur)
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) and adds a log line
// for failed or slow queries plus an observer callback for every query.
// Bind arguments are never logged; they carry subject identifiers and
// clinical payloads.
type queryTracer struct {
	inner    pgx.QueryTracer
	slow     time.Duration
	observer atomic.Pointer[observerHolder]
}

type observerHolder struct{ QueryObserver }

func newQueryTracer(inner pgx.QueryTracer, slow time.Duration) *queryTracer {
	return &queryTracer{inner: inner, slow: slow}
}

// SetObserver replaces the query observer. nil disables it.
func (t *queryTracer) SetObserver(o QueryObserver) {
	if o == nil {
		t.observer.Store(nil)
		return
	}
	t.observer.Store(&observerHolder{QueryObserver: o})
}

func (t *queryTracer) getObserver() QueryObserver {
	h := t.observer.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := &queryInfo{
		sql:       compactSQL(data.SQL),
		nargs:     len(data.Args),
		start:     time.Now(),
		operation: storeOperation(),
	}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() && info.operation != "" {
		span.SetAttributes(attribute.String("db.caller", info.operation))
	}

	return context.WithValue(ctx, queryStartKey{}, info)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// inner first so its span ends with the real duration
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, ok := ctx.Value(queryStartKey{}).(*queryInfo)
	if !ok {
		return
	}
	dur := time.Since(info.start)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	op := info.operation
	if op == "" {
		op = "unknown"
	}
	if obs := t.getObserver(); obs != nil {
		obs.ObserveQuery(ctx, op, outcome, dur)
	}

	if data.Err == nil && (t.slow <= 0 || dur < t.slow) {
		return
	}

	fields := []any{
		"db.statement", info.sql,
		"db.args", info.nargs,
		"db.duration", dur.Seconds(),
		"db.caller", op,
	}
	if tag := data.CommandTag.String(); tag != "" {
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

// storeOperation finds the pgstore method issuing the current query.
func storeOperation() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, storePackage) {
			return shortenFuncName(fr.Function)
		}
		if !more {
			return ""
		}
	}
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	// closures inside a method
	if i := strings.Index(fn, ".func"); i > 0 {
		fn = fn[:i]
	}
	return fn
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
