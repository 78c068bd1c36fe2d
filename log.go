package chunkindex

import (
	"context"
	"log/slog"
)

// NopLogger discards all output. Used when no logger is configured.
var NopLogger = slog.New(discardHandler{})

var nopLogger = NopLogger

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
