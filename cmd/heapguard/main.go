package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/codegen/ir"
	"github.com/wippyai/heapguard/codegen/wasmgen"
	"github.com/wippyai/heapguard/engine"
	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
	"github.com/wippyai/heapguard/memory"
	"github.com/wippyai/heapguard/region"
	"github.com/wippyai/heapguard/tunables"
)

const usage = `Usage: heapguard [flags] <plan|emit|run|probe>

  plan   print the heap descriptor and the bounds-check plan for one access
  emit   print the address computation emitted for the access
  run    compile the address computation to wasm and run it for -addr
  probe  run, then touch the computed address in the guarded memory

Flags:
`

type options struct {
	tunables *tunables.Tunables
	mode     string
	index    heap.IndexType
	offset   uint32
	size     uint8
	addr     uint64
	pages    uint32
	maxPages uint32
	color    bool
}

func main() {
	var (
		indexType   = flag.String("index", "i32", "Index type: i32 or i64")
		offset      = flag.Uint("offset", 0, "Static offset of the access")
		size        = flag.Uint("size", 4, "Access size in bytes (1, 2, 4, 8 or 16)")
		addr        = flag.Uint64("addr", 0, "Index value for run and probe")
		pages       = flag.Uint("pages", 1, "Initial memory size in wasm pages")
		maxPages    = flag.Uint("max-pages", 0, "Maximum memory size in wasm pages (0 uses HEAPGUARD_MAX_PAGES)")
		static      = flag.String("static-reservation", "", "Static reservation size, e.g. 4GiB")
		guard       = flag.String("guard", "", "Guard size for static memories, e.g. 2GiB")
		spectre     = flag.Bool("spectre", true, "Enable Spectre mitigations")
		noColor     = flag.Bool("no-color", false, "Disable styled output")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			defer logger.Sync() //nolint:errcheck
			region.SetLogger(logger.Named("region"))
			memory.SetLogger(logger.Named("memory"))
			engine.SetLogger(logger.Named("engine"))
		}
	}

	t, err := tunables.FromEnv()
	if err != nil {
		fatal(err)
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["spectre"] {
		t.SpectreMitigations = *spectre
	}
	if *static != "" {
		if t.StaticReservation, err = tunables.ParseSize(*static); err != nil {
			fatal(err)
		}
	}
	if *guard != "" {
		if t.StaticGuardSize, err = tunables.ParseSize(*guard); err != nil {
			fatal(err)
		}
	}
	if err := t.Validate(); err != nil {
		fatal(err)
	}

	it, err := parseIndexType(*indexType)
	if err != nil {
		fatal(err)
	}
	if *size == 0 || *size > 16 {
		fatal(errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("access size %d", *size)))
	}
	if uint64(*offset) > math.MaxUint32 {
		fatal(errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("offset %d does not fit in 32 bits", *offset)))
	}

	opts := options{
		tunables: t,
		index:    it,
		offset:   uint32(*offset),
		size:     uint8(*size),
		addr:     *addr,
		pages:    uint32(*pages),
		maxPages: uint32(*maxPages),
		color:    !*noColor && term.IsTerminal(int(os.Stdout.Fd())),
	}

	if *interactive {
		if err := runInteractive(opts); err != nil {
			fatal(err)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	opts.mode = flag.Arg(0)

	if err := run(context.Background(), os.Stdout, opts); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func parseIndexType(s string) (heap.IndexType, error) {
	switch strings.ToLower(s) {
	case "i32":
		return heap.I32, nil
	case "i64":
		return heap.I64, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseConfig, "index type must be i32 or i64, got "+s)
	}
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	planStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98FB98"))
	trapStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// printer writes label/value lines, styled only when color is set.
type printer struct {
	w     io.Writer
	color bool
}

func (p printer) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p printer) field(label string, value any) {
	fmt.Fprintf(p.w, "%s %v\n", p.paint(labelStyle, fmt.Sprintf("%-12s", label+":")), value)
}

// session is one memory with an emitter configured from the tunables.
type session struct {
	mem     *memory.Memory
	emitter *codegen.Emitter
	opts    options
}

func newSession(opts options) (*session, error) {
	mem, err := memory.New(memory.Config{
		Tunables:  opts.tunables,
		MinPages:  opts.pages,
		MaxPages:  opts.maxPages,
		IndexType: opts.index,
	})
	if err != nil {
		return nil, err
	}
	return &session{
		mem:     mem,
		emitter: codegen.NewEmitter(bounds.NewPlanner(opts.tunables.BoundsConfig())),
		opts:    opts,
	}, nil
}

func (s *session) Close() error { return s.mem.Close() }

func (s *session) build() (*ir.Func, codegen.Address, error) {
	return ir.Build(s.emitter, "access", s.mem.Descriptor(), s.opts.offset, s.opts.size)
}

func (s *session) env() ir.Env {
	return ir.Env{Globals: s.mem.Globals(), Index: s.opts.addr}
}

func run(ctx context.Context, w io.Writer, opts options) error {
	s, err := newSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	p := printer{w: w, color: opts.color}
	switch opts.mode {
	case "plan":
		return s.printPlan(p)
	case "emit":
		return s.printEmit(p)
	case "run":
		_, _, err := s.runWasm(ctx, p)
		return err
	case "probe":
		return s.probe(ctx, p)
	default:
		return errors.InvalidInput(errors.PhaseConfig, "unknown mode "+opts.mode)
	}
}

func (s *session) printPlan(p printer) error {
	desc := s.mem.Descriptor()
	plan := s.emitter.Planner().Plan(desc, s.opts.offset, s.opts.size)

	p.field("heap", desc)
	p.field("memory", fmt.Sprintf("%d pages, max %d", s.mem.Pages(), s.mem.MaxPages()))
	p.field("reserved", fmt.Sprintf("%#x bytes at %#x", len(s.mem.Reservation()), s.mem.Base()))
	p.field("access", fmt.Sprintf("offset %d, size %d", s.opts.offset, s.opts.size))
	style := planStyle
	if plan.Kind() == bounds.KindUnconditionalTrap {
		style = trapStyle
	}
	p.field("plan", p.paint(style, plan.String()))
	return nil
}

func (s *session) printEmit(p printer) error {
	if err := s.printPlan(p); err != nil {
		return err
	}
	f, addr, err := s.build()
	if err != nil {
		return err
	}
	fmt.Fprintln(p.w)
	fmt.Fprint(p.w, f.String())
	if !addr.Reachable {
		fmt.Fprintln(p.w, p.paint(dimStyle, "; access always traps"))
	}
	return nil
}

// runWasm executes the emitted code on wazero, cross-checks the result
// against the IR evaluator and reports where the address lands. ok is
// false when the access trapped.
func (s *session) runWasm(ctx context.Context, p printer) (addr uint64, ok bool, err error) {
	if err := s.printPlan(p); err != nil {
		return 0, false, err
	}
	f, _, err := s.build()
	if err != nil {
		return 0, false, err
	}

	r, err := wasmgen.NewRunner(ctx)
	if err != nil {
		return 0, false, err
	}
	defer r.Close(ctx)

	prog, err := r.Load(ctx, f)
	if err != nil {
		return 0, false, err
	}
	defer prog.Close(ctx)

	env := s.env()
	got, err := prog.Call(ctx, env)
	want, evalErr := f.Eval(env)
	if (err == nil) != (evalErr == nil) || (err == nil && got != want) {
		return 0, false, errors.New(errors.PhaseRuntime, errors.KindFault).
			Op("run").
			Detail("wasm result (%#x, %v) disagrees with evaluator (%#x, %v)", got, err, want, evalErr).
			Build()
	}

	p.field("index", fmt.Sprintf("%#x", s.opts.addr))
	if err != nil {
		var trap *errors.Trap
		if stderrors.As(err, &trap) {
			p.field("result", p.paint(trapStyle, "trap: "+trap.Code.String()))
			return 0, false, nil
		}
		return 0, false, err
	}
	if got == 0 {
		p.field("address", p.paint(trapStyle, "null (clamped by speculation guard)"))
		return 0, true, nil
	}
	zone := s.mem.Region().Classify(uintptr(got))
	p.field("address", fmt.Sprintf("%#x (base+%#x)", got, got-uint64(s.mem.Base())))
	p.field("zone", zone)
	return got, true, nil
}

func (s *session) probe(ctx context.Context, p printer) error {
	addr, ok, err := s.runWasm(ctx, p)
	if err != nil || !ok {
		return err
	}
	if addr == 0 {
		p.field("probe", p.paint(trapStyle, "null page, not touched"))
		return nil
	}
	if s.mem.Region().Classify(uintptr(addr)) == region.ZoneOutside {
		p.field("probe", p.paint(trapStyle, "address outside the reservation, not touched"))
		return nil
	}
	off := int(addr - uint64(s.mem.Base()))
	if err := region.Probe(s.mem.Reservation(), off); err != nil {
		p.field("probe", p.paint(trapStyle, err.Error()))
		return nil
	}
	p.field("probe", p.paint(planStyle, "readable"))
	return nil
}
