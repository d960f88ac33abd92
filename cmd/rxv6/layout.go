package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"rxv6"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	nproc int
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the trap frame layout and the high end of the kernel address space"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - print trap frame offsets and kernel stack addresses.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.IntVar(&l.nproc, "nproc", rxv6.DefaultConfig().NProc, "number of kernel stacks to list.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

	fmt.Fprintln(w, "TRAPFRAME\tOFFSET")
	for _, s := range rxv6.TrapFrameLayout() {
		fmt.Fprintf(w, "%s\t%d\n", s.Name, s.Offset)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "REGION\tVA")
	fmt.Fprintf(w, "trampoline\t%#x\n", rxv6.TRAMPOLINE)
	fmt.Fprintf(w, "trapframe\t%#x\n", rxv6.TRAPFRAME)
	for i := 0; i < l.nproc; i++ {
		fmt.Fprintf(w, "kstack %d\t%#x\n", i, rxv6.KSTACK(i))
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "layout: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
