// Package logctx decorates slog records with guest-session and wire-message
// attributes carried on the context. Handlers wrap an inner slog.Handler so
// callers keep their configured sink and level.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if gd, ok := ctx.Value(guestDataKey{}).(*GuestData); ok {
		r.AddAttrs(slog.Group("guest",
			slog.String("id", gd.GuestID),
		))
	}

	if md, ok := ctx.Value(messageDataKey{}).(*MessageData); ok {
		r.AddAttrs(slog.Group("msg",
			slog.String("type", md.Type),
			slog.String("origin", md.Origin),
			slog.Int("protocol_version", md.ProtocolVersion),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type guestDataKey struct{}

type GuestData struct {
	GuestID string
}

func WithGuestData(ctx context.Context, data *GuestData) context.Context {
	return context.WithValue(ctx, guestDataKey{}, data)
}

type messageDataKey struct{}

type MessageData struct {
	Type            string
	Origin          string
	ProtocolVersion int
}

func WithMessageData(ctx context.Context, data *MessageData) context.Context {
	return context.WithValue(ctx, messageDataKey{}, data)
}
