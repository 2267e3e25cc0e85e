package thread

/* thread.go contains functions useful for multi-threading. */

import (
	"runtime"

	"github.com/astrofold/willow/lib/errs"
)

// Set sets the number of OS threads used by the shared-memory layer. n = -1
// means "use every core on the node".
func Set(n int) {
	if n == -1 {
		n = runtime.NumCPU()
	}
	if n > runtime.NumCPU() {
		errs.External("%d threads requested, but your system only has %d "+
			"cores per node. If you want willow to use the maximum number of "+
			"threads per node, set Threads=-1.", n, runtime.NumCPU())
	}

	runtime.GOMAXPROCS(n)
}

// N returns the number of threads the shared-memory parallel loops will use.
func N() int {
	return runtime.GOMAXPROCS(0)
}
