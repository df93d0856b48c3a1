// Package logx provides structured logging for schedhub.
//
// It wraps zerolog behind a small Field-based facade so packages don't depend
// on a concrete logging library. Sinks:
//   - Console (human-friendly output)
//   - File (JSON lines)
//
// The Service supports live reconfiguration: Apply() swaps levels and sinks
// without invalidating Loggers already handed out.
package logx
