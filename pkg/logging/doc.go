// Package logging provides leveled, subsystem-tagged logging for the
// converge engine, backed by log/slog.
//
// Every log call names the subsystem it originates from (for example
// "Controller", "Executor", "LiveObserver") so that operators can filter
// the output of a busy multi-application engine. The serve command uses a
// colorized terminal handler; everything else uses plain text.
package logging
