package halloc

import (
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// LeakReporter collects trees whose still-live contexts are reported at Shutdown.
// It only reads the trees.
type LeakReporter struct {
	out     io.Writer
	printer *message.Printer
	entries []reportEntry
}

type reportEntry struct {
	tree *Tree
	full bool
}

// NewLeakReporter creates a reporter writing to out, nil discards the report.
func NewLeakReporter(out io.Writer) *LeakReporter {
	if out == nil {
		out = io.Discard
	}
	return &LeakReporter{
		out:     out,
		printer: message.NewPrinter(language.English),
	}
}

// SetOutput ...
func (r *LeakReporter) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	r.out = w
}

// LogToStderr ...
func (r *LeakReporter) LogToStderr() {
	r.out = os.Stderr
}

// Register adds t to the report, or changes its mode if already registered.
// A full report prints every context, otherwise only the roots with their totals.
func (r *LeakReporter) Register(t *Tree, full bool) {
	for i := range r.entries {
		if r.entries[i].tree == t {
			r.entries[i].full = full
			return
		}
	}
	r.entries = append(r.entries, reportEntry{tree: t, full: full})
}

// Registered ...
func (r *LeakReporter) Registered(t *Tree) bool {
	for _, e := range r.entries {
		if e.tree == t {
			return true
		}
	}
	return false
}

// Shutdown writes the report of every registered tree, then forgets them.
func (r *LeakReporter) Shutdown() {
	for _, e := range r.entries {
		size, blocks := e.tree.totals(0)
		if blocks == 0 {
			continue
		}
		r.write(e.tree, 0, e.full)

		e.tree.logger.Info("leak report",
			"blocks", blocks,
			"size", humanize.Bytes(size),
			"full", e.full,
		)
	}
	r.entries = nil
}

func (r *LeakReporter) write(t *Tree, root uint32, full bool) {
	sums := t.subtotals(root)
	size, blocks := sums[root].size, sums[root].blocks
	kind := "talloc report"
	if full {
		kind = "full talloc report"
	}
	_, _ = r.printer.Fprintf(r.out, "%s on '%s' (total %6d bytes in %3d blocks)\n",
		kind, t.nodes[root].name, size, blocks)

	t.walk(root, func(index uint32, depth int) bool {
		if index == root {
			return true
		}

		n := &t.nodes[index]
		indent := strings.Repeat("    ", depth)
		if n.kind == kindReference {
			_, _ = r.printer.Fprintf(r.out, "%sreference to: %s\n", indent, t.nodes[n.target].name)
			return false
		}

		size, blocks := sums[index].size, sums[index].blocks
		_, _ = r.printer.Fprintf(r.out, "%s%-30s contains %6d bytes in %3d blocks (ref %d) %s\n",
			indent, n.name, size, blocks, n.refs.Size(), t.ctxOf(index))
		return full
	})
}

// EnableLeakReport registers the tree for a report of its roots at Shutdown of its reporter.
func (t *Tree) EnableLeakReport() {
	t.reporter.Register(t, false)
}

// EnableFullLeakReport registers the tree for a report of every live context.
func (t *Tree) EnableFullLeakReport() {
	t.reporter.Register(t, true)
}

// Reporter ...
func (t *Tree) Reporter() *LeakReporter {
	return t.reporter
}

// Report writes the children of c with their totals to w.
func (t *Tree) Report(w io.Writer, c Ctx) error {
	return t.report(w, c, false)
}

// ReportFull writes the whole subtree of c to w.
func (t *Tree) ReportFull(w io.Writer, c Ctx) error {
	return t.report(w, c, true)
}

func (t *Tree) report(w io.Writer, c Ctx, full bool) error {
	index, err := t.resolveParent(c)
	if err != nil {
		return err
	}
	r := NewLeakReporter(w)
	r.write(t, index, full)
	return nil
}
