package crash

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"tg-guardian/internal/logger"
)

// RecoverWithStack logs a recovered panic with its stack; call it deferred.
func RecoverWithStack(moduleName string) {
	if r := recover(); r != nil {
		report(moduleName, r, false)
	}
}

// RecoverWithStackAndExit is the main goroutine variant: it logs and exits non-zero.
func RecoverWithStackAndExit(moduleName string) {
	if r := recover(); r != nil {
		report(moduleName, r, true)
		logger.Sync()
		time.Sleep(time.Second)
		os.Exit(1)
	}
}

// SafeGoroutine runs fn on a new goroutine that survives panics.
func SafeGoroutine(name string, fn func()) {
	go Guard(fmt.Sprintf("goroutine-%s", name), fn)()
}

// Guard wraps fn so that a panic inside it is logged instead of crashing the process.
// Timer callbacks and handler funcs go through it.
func Guard(name string, fn func()) func() {
	return func() {
		defer RecoverWithStack(name)
		fn()
	}
}

func report(moduleName string, r any, fatal bool) {
	stack := debug.Stack()
	prefix := "PANIC"
	if fatal {
		prefix = "FATAL PANIC"
	}

	logger.Errorf("%s in %s: %v", prefix, moduleName, r)
	logger.Errorf("Stack trace:\n%s", string(stack))

	// stderr too, so container logs show it even if the file sink is broken
	fmt.Fprintf(os.Stderr, "[%s] %s - %s: %v\n", prefix, time.Now().Format("2006-01-02 15:04:05"), moduleName, r)

	logRuntimeInfo()
}

func logRuntimeInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	logger.Errorf("runtime: go=%s cpus=%d goroutines=%d heap_alloc=%dKB heap_inuse=%dKB stack_inuse=%dKB num_gc=%d",
		runtime.Version(),
		runtime.NumCPU(),
		runtime.NumGoroutine(),
		m.HeapAlloc/1024,
		m.HeapInuse/1024,
		m.StackInuse/1024,
		m.NumGC,
	)
}
