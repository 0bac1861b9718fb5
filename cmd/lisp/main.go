// Command lisp is the REPL/script-loading shell around the core
// runtime (spec.md §6's CLI surface, "specified only for test stability").
// It owns process lifetime, stdin/stdout wiring and flag parsing; none of
// it is part of the evaluator, reader or JIT contracts those packages
// implement.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markus456/golisp/internal/eval"
	"github.com/markus456/golisp/internal/jit"
	"github.com/markus456/golisp/internal/reader"
	"github.com/markus456/golisp/internal/rt"
)

func main() {
	os.Exit(run())
}

// run builds the root command and executes it, returning the process exit
// code: 0 on clean termination, nonzero on an argument error (spec.md §6).
func run() int {
	var (
		growPct  int
		gcLog    bool
		quiet    bool
		echo     bool
		debug    bool
		strace   bool
		heapSize int
	)

	root := &cobra.Command{
		Use:           "lisp [file]",
		Short:         "a tiered-JIT Lisp dialect runtime",
		SilenceUsage:  true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if growPct < 1 || growPct > 99 {
				return fmt.Errorf("-m must be between 1 and 99, got %d", growPct)
			}

			r := rt.NewRuntime(heapSize)
			if gcLog || debug || strace {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				r.Log = logger
			}
			r.Heap.SetGrowThreshold(growPct)
			r.Trace = debug || strace
			eval.SeedFromOS(r)
			defer jit.Free()

			stdio := &eval.Stdio{Out: cmd.OutOrStdout(), In: bufio.NewReader(cmd.InOrStdin())}
			eval.Register(r, stdio, os.Exit)

			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				stdio.In = bufio.NewReader(f)
			}

			repl(r, stdio, quiet, echo)
			return nil
		},
	}

	flags := root.Flags()
	flags.IntVarP(&growPct, "grow-threshold", "m", 75, "heap growth threshold percentage (1-99)")
	flags.BoolVarP(&gcLog, "gc-log", "g", false, "verbose GC logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress the REPL's result echo")
	flags.BoolVarP(&echo, "echo", "e", false, "echo each form read before evaluating it")
	flags.BoolVarP(&debug, "debug", "d", false, "enable evaluator stack-trace logging")
	flags.BoolVarP(&strace, "stack-trace", "s", false, "enable evaluator stack-trace logging")
	flags.IntVar(&heapSize, "heap-size", 0, "semi-space size in bytes (0 selects the default)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// repl reads and evaluates top-level forms from stdio.In until EOF, printing
// each result (unless quiet) and draining the error ring after it (spec.md
// §7: "the REPL prints accumulated errors after the top-level value and
// drains the ring").
func repl(r *rt.Runtime, stdio *eval.Stdio, quiet, echo bool) {
	rd := reader.New(r, stdio.In)
	scope := r.GlobalEnv()
	for {
		form, err := rd.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(stdio.Out, err)
			continue
		}
		if echo {
			fmt.Fprintln(stdio.Out, eval.Print(form))
		}
		result := eval.Eval(r, scope, form)
		if !quiet {
			fmt.Fprintln(stdio.Out, eval.Print(result))
		}
		for _, e := range r.Errors.Drain() {
			fmt.Fprintln(stdio.Out, "error:", e)
		}
	}
}
