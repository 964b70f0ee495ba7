// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// outliner_report runs the outlining passes on demo modules, and prints what they did.
//
// The matcher options are read from $OUTLINER_FLAGS, and can be overridden with the flags below.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/outliner/allocation"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/exproutliner"
	"github.com/gomlx/outliner/fusedops"
	"github.com/gomlx/outliner/internal/flags"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/matcher"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagDemo = flag.String("demo", "all",
		fmt.Sprintf("Demo module to report on, one of %q, or \"all\".", demoNames()))
	flagLookThrough    = flag.Int("look_through", 0, "Maximum number of associative operations the matcher looks through.")
	flagUniqueSharding = flag.Bool("unique_sharding", false, "Reject matches spanning more than one device.")
	flagNoColor        = flag.Bool("no_color", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	opts := must.M1(flags.FromEnv(matcher.Options{}))
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "look_through":
			opts.LookThroughMaxDepth = *flagLookThrough
		case "unique_sharding":
			opts.RequireUniqueSharding = *flagUniqueSharding
		}
	})

	names := demoNames()
	if *flagDemo != "all" {
		if _, found := demos[*flagDemo]; !found {
			klog.Errorf("Unknown demo %q, see 'outliner_report -help'.", *flagDemo)
			os.Exit(1)
		}
		names = []string{*flagDemo}
	}
	for _, name := range names {
		report(name, demos[name], opts)
	}
}

// report runs the passes on the module built by build, and prints the tables.
func report(name string, build demo, opts matcher.Options) {
	ann := annotations.New()
	m := build(ann)
	before := m.InstructionCount()

	fusedCount := countFusions(m)
	must.M1(fusedops.New(ann, opts).Run(m))
	fusedCount = countFusions(m) - fusedCount
	var expressions int
	for _, region := range m.Regions() {
		if region.IsFused() {
			continue
		}
		if must.M1(exproutliner.Run(region, ann)) {
			expressions++
		}
	}
	ann.Freeze()
	must.M(m.Verify())
	allocations := must.M1(allocation.Run(m, ann))
	allocations.Freeze()

	fmt.Println(titleStyle.Render(fmt.Sprintf("Module %q", name)))
	summary := newTable([]string{"", ""}, lipgloss.Right, lipgloss.Left)
	summary.Row("options", orNone(opts.String()))
	summary.Row("# instructions", fmt.Sprintf("%s -> %s", humanize.Comma(int64(before)), humanize.Comma(int64(m.InstructionCount()))))
	summary.Row("# fused ops", humanize.Comma(int64(fusedCount)))
	summary.Row("# regions with expressions", humanize.Comma(int64(expressions)))
	summary.Row("# in-place calls", humanize.Comma(int64(ann.NumInplaceCalls())))
	summary.Row("# allocation targets", humanize.Comma(int64(allocations.Len())))
	fmt.Println(summary.Render())

	regions := newTable([]string{"Region", "Called by", "Kind", "Instructions"},
		lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	for _, region := range m.Regions() {
		caller, kind := "-", "entry"
		if owner := region.Owner(); owner != nil {
			caller = owner.Name()
			kind = strings.ToLower(owner.OpType().String())
			if owner.OpType() == ops.OpTypeFusion {
				kind = owner.FusionKind()
			}
		}
		regions.Row(region.Name(), caller, kind, humanize.Comma(int64(region.InstructionCount())))
	}
	fmt.Println(regions.Render())

	targets := newTable([]string{"Source", "Target", "Operand", "Path"},
		lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	for _, source := range allocations.Sources() {
		target, _ := allocations.Get(source)
		targets.Row(source.String(), target.Target.Name(), fmt.Sprint(target.InputIndex), pathString(target.BackwardPath))
	}
	fmt.Println(targets.Render())
}

func countFusions(m *ir.Module) (count int) {
	for _, region := range m.Regions() {
		if region.IsFused() {
			count++
		}
	}
	return
}

func pathString(path []*ir.Instruction) string {
	names := make([]string, len(path))
	for ii, inst := range path {
		names[ii] = inst.Name()
	}
	return strings.Join(names, " > ")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
