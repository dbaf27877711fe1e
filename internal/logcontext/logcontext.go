package logcontext

import (
	"context"
	"log/slog"
)

type ctxKey string

const slogFields ctxKey = "slog_fields"

// Handler wraps a slog.Handler and appends attributes stored in the
// context by AppendCtx to every record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		for _, v := range attrs {
			r.AddAttrs(v)
		}
	}
	return h.Handler.Handle(ctx, r)
}

// AppendCtx returns a context carrying the given attribute in addition to
// any attributes already present.
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(slogFields).([]slog.Attr); ok {
		v = append(v, attr)
		return context.WithValue(parent, slogFields, v)
	}

	return context.WithValue(parent, slogFields, []slog.Attr{attr})
}

// Attrs returns the attributes accumulated in ctx, if any.
func Attrs(ctx context.Context) []slog.Attr {
	if v, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		return v
	}
	return nil
}
