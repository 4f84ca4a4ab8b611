package bus

import (
	"context"
	"log/slog"
)

// Slog is silent by default. Hosts swap it in, ie for debugging:
//
//	bus.SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
var Slog *slog.Logger = slog.New(&NilHandler{})

// SetLogger replaces Slog. nil restores the silent logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(&NilHandler{})
	}
	Slog = l
}

type NilHandler struct {
	slog.Handler
}

func (*NilHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return false
}

func (h *NilHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *NilHandler) WithGroup(_ string) slog.Handler {
	return h
}
