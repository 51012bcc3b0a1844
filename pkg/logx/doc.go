// Package logx is remindd's structured logging layer on top of zerolog.
//
// Console output is human-readable with a short file:line caller; the
// optional file sink is JSON lines. A Logger obtained from a Service follows
// later Service.Apply calls, so levels and sinks can change on config reload
// without re-plumbing loggers through components.
package logx
