// Package reporting renders run snapshots for the terminal.
package reporting

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/ut-runner/runner"
	"github.com/ethereum-optimism/infra/ut-runner/types"
	"github.com/ethereum-optimism/infra/ut-runner/ui"
)

const maxErrorWidth = 80

// node is a suite or a test in the display tree of a run
type node struct {
	name     string
	record   *types.ResultRecord
	children []*node
	index    map[string]*node
}

func (n *node) suite(name string) *node {
	if child, ok := n.index[name]; ok {
		return child
	}
	child := &node{name: name, index: make(map[string]*node)}
	n.index[name] = child
	n.children = append(n.children, child)
	return child
}

// buildTree groups records under their suites, keeping record order
func buildTree(records []types.ResultRecord) *node {
	root := &node{index: make(map[string]*node)}
	for i := range records {
		parent := root
		for _, s := range records[i].SuitePath {
			parent = parent.suite(s)
		}
		parent.children = append(parent.children, &node{name: records[i].DisplayName(), record: &records[i]})
	}
	return root
}

type suiteStats struct {
	tests   int
	success int
	failing int
	elapsed time.Duration
}

func (n *node) stats() suiteStats {
	if n.record != nil {
		s := suiteStats{tests: 1, elapsed: n.record.Time}
		switch n.record.Status {
		case types.TestStatusSuccess:
			s.success = 1
		case types.TestStatusFailure, types.TestStatusError:
			s.failing = 1
		}
		return s
	}
	var s suiteStats
	for _, c := range n.children {
		cs := c.stats()
		s.tests += cs.tests
		s.success += cs.success
		s.failing += cs.failing
		s.elapsed += cs.elapsed
	}
	return s
}

// RenderRun renders the result table of a single run
func RenderRun(snap runner.Snapshot) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("%s (%s, %s)", snap.Title, snap.StatusText, snap.Progress()))
	t.AppendHeader(table.Row{"Type", "Name", "Duration", "Tests", "Passed", "Failed", "Status", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "Name", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Error", WidthMax: maxErrorWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	root := buildTree(snap.Records)
	appendRows(t, root.children, 1, nil)

	total := root.stats()
	t.AppendFooter(table.Row{
		"TOTAL", "", FormatDuration(total.elapsed), total.tests, total.success, total.failing, overallStatus(snap), "",
	})

	switch {
	case snap.Failing || snap.State == runner.StateInterrupted || snap.State == runner.StateUnavailable:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case snap.State == runner.StateNoTestsFound:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.Render()
	return buf.String()
}

func appendRows(t table.Writer, nodes []*node, depth int, ancestorsLast []bool) {
	for i, n := range nodes {
		isLast := i == len(nodes)-1
		prefix := ui.TreePrefix(depth, isLast, ancestorsLast)
		if n.record == nil {
			s := n.stats()
			t.AppendRow(table.Row{
				"Suite", prefix + n.name, FormatDuration(s.elapsed), s.tests, s.success, s.failing, suiteStatus(s), "",
			})
			appendRows(t, n.children, depth+1, append(append([]bool(nil), ancestorsLast...), isLast))
			continue
		}
		rec := n.record
		t.AppendRow(table.Row{
			"Test",
			prefix + n.name,
			FormatDuration(rec.Time),
			1,
			boolToInt(rec.Status == types.TestStatusSuccess),
			boolToInt(rec.Status == types.TestStatusFailure || rec.Status == types.TestStatusError),
			StatusString(rec.Status),
			KeyErrorMessage(*rec),
		})
	}
}

// RenderFailures prints a box per failing test with its expectations and error stack
func RenderFailures(snap runner.Snapshot, width int) string {
	var b strings.Builder
	for _, rec := range snap.Failed() {
		b.WriteString(ui.BoxHeader(fmt.Sprintf("%s %s", rec.Status.Symbol(), qualifiedName(rec)), width))
		for _, exp := range rec.FailedExpectations {
			for _, line := range nonEmptyLines(exp.Message) {
				b.WriteString(ui.BoxLine(line, width))
			}
			if exp.Caller != "" {
				b.WriteString(ui.BoxLine("at "+firstLine(exp.Caller), width))
			}
		}
		for _, line := range nonEmptyLines(rec.Error) {
			b.WriteString(ui.BoxLine(line, width))
		}
		b.WriteString(ui.BoxFooter(width))
	}
	return b.String()
}

// RenderSummary renders one row per run of a plan
func RenderSummary(snaps []runner.Snapshot) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle("Test Run Summary")
	t.AppendHeader(table.Row{"Run", "State", "Tests", "Success", "Failure", "Error", "Disabled", "Warning", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Run", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Success", Align: text.AlignRight},
		{Name: "Failure", Align: text.AlignRight},
		{Name: "Error", Align: text.AlignRight},
		{Name: "Disabled", Align: text.AlignRight},
		{Name: "Warning", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	failing := false
	for _, snap := range snaps {
		var counter types.Counter
		var elapsed time.Duration
		if snap.Summary != nil {
			counter = snap.Summary.Counter
			elapsed = snap.Summary.ExecutionTime
		}
		if snap.Failing || snap.State == runner.StateInterrupted || snap.State == runner.StateUnavailable {
			failing = true
		}
		t.AppendRow(table.Row{
			snap.Title, snap.StatusText, snap.Progress(),
			counter.Success, counter.Failure, counter.Error, counter.Disabled, counter.Warning,
			FormatDuration(elapsed),
		})
	}
	if failing {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	t.Render()
	return buf.String()
}

// KeyErrorMessage extracts the most useful line of a record's failure detail
func KeyErrorMessage(rec types.ResultRecord) string {
	var msg string
	switch {
	case len(rec.FailedExpectations) > 0:
		msg = firstLine(rec.FailedExpectations[0].Message)
		if n := len(rec.FailedExpectations); n > 1 {
			msg = fmt.Sprintf("%s (+%d more)", msg, n-1)
		}
	case rec.Error != "":
		msg = oraLine(rec.Error)
	default:
		return ""
	}
	return ui.Truncate(msg, maxErrorWidth)
}

// oraLine prefers the first database error line of a stack
func oraLine(stack string) string {
	for _, line := range nonEmptyLines(stack) {
		if strings.HasPrefix(line, "ORA-") {
			return line
		}
	}
	return firstLine(stack)
}

func StatusString(status types.TestStatus) string {
	if status == types.TestStatusUnknown {
		return "? " + string(status)
	}
	return status.Symbol() + " " + string(status)
}

func suiteStatus(s suiteStats) string {
	if s.failing > 0 {
		return StatusString(types.TestStatusFailure)
	}
	return StatusString(types.TestStatusSuccess)
}

func overallStatus(snap runner.Snapshot) string {
	switch {
	case snap.State == runner.StateFinished && !snap.Failing:
		return "PASS"
	case snap.State == runner.StateFinished:
		return "FAIL"
	default:
		return strings.ToUpper(snap.StatusText)
	}
}

func qualifiedName(rec types.ResultRecord) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{rec.Owner, rec.Package, rec.Procedure} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return rec.DisplayName()
	}
	return strings.Join(parts, ".")
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(stripansi.Strip(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstLine(s string) string {
	if lines := nonEmptyLines(s); len(lines) > 0 {
		return lines[0]
	}
	return ""
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
