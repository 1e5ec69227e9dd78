package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack and swallows it. It
// only works when deferred directly by the goroutine that may panic:
//
//	go func() {
//		defer observability.RecoverPanic(logger, "db stats collector")
//		...
//	}()
func RecoverPanic(logger *Logger, component string) {
	r := recover()
	if r == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"component": component,
		"panic":     fmt.Sprint(r),
		"stack":     string(debug.Stack()),
	}).Error("Recovered from panic")
}
