package batch

import (
	"os"
	"os/signal"
	"syscall"
)

// SignalHook runs flush on the first SIGINT or SIGTERM, then stops
// listening and re-delivers the signal so the process terminates as it
// would have without the hook.
func SignalHook(flush func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		flush()
		signal.Stop(ch)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			p.Signal(sig)
		}
	}()
}
