package client

import "github.com/rs/zerolog"

// Notifier surfaces transient user-facing notices. The dashboard shows these
// as toasts; the daemon and tests log or collect them.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string)
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Info(msg string)    { n.Log.Info().Msg(msg) }
func (n LogNotifier) Success(msg string) { n.Log.Info().Str("level_hint", "success").Msg(msg) }
func (n LogNotifier) Error(msg string)   { n.Log.Error().Msg(msg) }
