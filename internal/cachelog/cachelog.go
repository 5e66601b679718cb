// Package cachelog centralizes the cache core's structured-logging
// defaults so every component gets a consistently-named zap.Logger the
// same way the reference repository's constructors do
// (if log == nil { log = zap.NewNop() }; log.Named(component)).
package cachelog

import "go.uber.org/zap"

// Named returns log.Named(component), or a no-op logger named the same
// way if log is nil. Every constructor in the cache core calls this
// instead of checking for nil itself.
func Named(log *zap.Logger, component string) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return log.Named(component)
}
