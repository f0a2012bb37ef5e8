package logctx

import (
	"context"
	"log/slog"
)

// Handler enriches records with the service and listener data carried by the
// context passed to the *Context logging methods.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(serviceDataKey{}).(*ServiceData); ok {
		r.AddAttrs(slog.Group("svc",
			slog.String("identity", sd.Identity),
			slog.String("state", sd.State),
			slog.Uint64("epoch", sd.Epoch),
		))
	}

	if ld, ok := ctx.Value(listenDataKey{}).(*ListenData); ok {
		r.AddAttrs(slog.Group("listen",
			slog.String("path", ld.Path),
			slog.String("kind", ld.Kind),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type serviceDataKey struct{}

type ServiceData struct {
	Identity string
	State    string
	Epoch    uint64
}

func WithServiceData(ctx context.Context, data *ServiceData) context.Context {
	return context.WithValue(ctx, serviceDataKey{}, data)
}

type listenDataKey struct{}

type ListenData struct {
	Path string
	Kind string
}

func WithListenData(ctx context.Context, data *ListenData) context.Context {
	return context.WithValue(ctx, listenDataKey{}, data)
}
