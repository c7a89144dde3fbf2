package logctx

import (
	"context"
	"log/slog"
)

// Handler adds the client, virtual server and console command attached to
// the record's context as attribute groups.
type Handler struct {
	slog.Handler
}

// NewLogger wraps h so context-scoped attributes are attached to every
// record logged with a *Context method.
func NewLogger(h slog.Handler) *slog.Logger {
	return slog.New(Handler{Handler: h})
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(clientDataKey{}).(*ClientData); ok {
		r.AddAttrs(slog.Group("client",
			slog.String("id", cd.ClientID),
			slog.String("username", cd.Username),
			slog.Int("protocol_version", cd.ProtocolVersion),
		))
	}

	if vd, ok := ctx.Value(serverDataKey{}).(*ServerData); ok {
		r.AddAttrs(slog.Group("vserver",
			slog.String("name", vd.Name),
		))
	}

	if cmd, ok := ctx.Value(commandDataKey{}).(*CommandData); ok {
		r.AddAttrs(slog.Group("cmd",
			slog.String("name", cmd.Name),
			slog.String("line", cmd.Line),
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

type clientDataKey struct{}

type ClientData struct {
	ClientID        string
	Username        string
	ProtocolVersion int
}

func WithClientData(ctx context.Context, data *ClientData) context.Context {
	return context.WithValue(ctx, clientDataKey{}, data)
}

type serverDataKey struct{}

type ServerData struct {
	Name string
}

func WithServerData(ctx context.Context, data *ServerData) context.Context {
	return context.WithValue(ctx, serverDataKey{}, data)
}

type commandDataKey struct{}

type CommandData struct {
	Name string
	Line string
}

func WithCommandData(ctx context.Context, data *CommandData) context.Context {
	return context.WithValue(ctx, commandDataKey{}, data)
}
