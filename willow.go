package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/astrofold/willow/lib/config"
	"github.com/astrofold/willow/lib/errs"
	"github.com/astrofold/willow/lib/format"
	"github.com/astrofold/willow/lib/ic"
	"github.com/astrofold/willow/lib/sim"
	"github.com/astrofold/willow/lib/thread"
	"github.com/astrofold/willow/lib/treeio"
)

func main() {
	if len(os.Args) < 2 {
		PrintHelp()
		return
	}
	mode, args := os.Args[1], os.Args[2:]

	switch mode {
	case "help":
		PrintHelp()
	case "check":
		Check(args)
	case "run":
		Run(args)
	case "inspect":
		Inspect(args)
	default:
		errs.External(
			"You attempted to run willow in the mode '%s', but the only "+
				"valid modes are 'help', 'check', 'run', and 'inspect'.", mode,
		)
	}
}

// PrintHelp prints the usage summary.
func PrintHelp() {
	fmt.Println(`willow - SPH spatial index and long-range force engine

usage:
    willow check <config>
        Validate a configuration file.
    willow run <config> <ic.csv> <nsteps> <dt>
        Run the engine over an initial-conditions file.
    willow inspect <snapshot>
        Print a summary of a snapshot file.
    willow help
        Print this message.`)
}

// Check runs willow's "check" mode, which tests for errors in the
// configuration file.
func Check(args []string) {
	if len(args) != 1 {
		errs.External("The 'check' mode needs exactly one argument, a " +
			"configuration file.")
	}
	if _, err := config.Read(args[0]); err != nil {
		errs.External("%v", err)
	}
	fmt.Println("No errors detected.")
}

// Run runs willow's "run" mode: a single-rank step loop over the particles
// of an IC file. Multi-rank runs embed the lib/sim engine directly, since
// transport setup is deployment-specific.
func Run(args []string) {
	if len(args) != 4 {
		errs.External("The 'run' mode needs four arguments: a " +
			"configuration file, an IC file, a step count, and a step size.")
	}
	cfg, err := config.Read(args[0])
	if err != nil {
		errs.External("%v", err)
	}
	nsteps, err := strconv.Atoi(args[2])
	if err != nil || nsteps < 1 {
		errs.External("The step count '%s' is not a positive integer.",
			args[2])
	}
	dt, err := strconv.ParseFloat(args[3], 64)
	if err != nil || dt <= 0 {
		errs.External("The step size '%s' is not a positive number.", args[3])
	}

	thread.Set(cfg.Threads)

	s := sim.New(cfg)
	n, err := ic.Read(args[1], s.Table)
	if err != nil {
		errs.External("%v", err)
	}
	log.Printf("Loaded %d particles from %s.", n, args[1])

	for step := 0; step < nsteps; step++ {
		if err := s.Step(dt); err != nil {
			errs.External("Step %d failed: %v", step, err)
		}
	}
	log.Printf("Completed %d steps.", s.StepCount())

	if cfg.Snapshot != "" {
		fname, err := format.Expand(cfg.Snapshot, s.StepCount(), 0)
		if err != nil {
			errs.External("%v", err)
		}
		if err := s.WriteSnapshot(fname); err != nil {
			errs.External("Could not write the snapshot: %v", err)
		}
		log.Printf("Wrote snapshot %s.", fname)
	}
	if cfg.Diag != "" {
		fname, err := format.Expand(cfg.Diag, s.StepCount(), 0)
		if err != nil {
			errs.External("%v", err)
		}
		if err := s.WriteDiagnostics(fname); err != nil {
			errs.External("Could not write the diagnostics: %v", err)
		}
		log.Printf("Wrote diagnostics %s.", fname)
	}
}

// Inspect runs willow's "inspect" mode, which prints a summary of a
// snapshot's contents.
func Inspect(args []string) {
	if len(args) != 1 {
		errs.External("The 'inspect' mode needs exactly one argument, a " +
			"snapshot file.")
	}
	parts, cells, err := treeio.Read(args[0])
	if err != nil {
		errs.External("%v", err)
	}

	mtot, nleaf := 0.0, 0
	for i := range parts {
		mtot += parts[i].M
	}
	for c := range cells {
		if cells[c].Leaf() {
			nleaf++
		}
	}
	fmt.Printf("%s: %d particles (total mass %g), %d cells (%d leaves)\n",
		args[0], len(parts), mtot, len(cells), nleaf)
}
