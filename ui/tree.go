// Package ui holds the box drawing helpers used to print result trees.
package ui

import (
	"strings"
	"unicode/utf8"
)

const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   " // ancestor has more siblings below
	TreeIndent     = "    " // ancestor was the last child

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// TreePrefix returns the connector drawn before a node.
// ancestorsLast holds, outermost first, whether each ancestor below the root
// was the last child of its parent; its length must be depth-1.
func TreePrefix(depth int, isLast bool, ancestorsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(ancestorsLast) && ancestorsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}

// BoxHeader opens a box of the given width with a title row
func BoxHeader(title string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	padding := width - 4 - titleLen

	header := BoxTopLeft + repeat(BoxHorizontal, width-2) + BoxTopRight + "\n"
	header += BoxVertical + " " + title + repeat(" ", padding+1) + BoxVertical + "\n"
	header += BoxTeeRight + repeat(BoxHorizontal, width-2) + BoxTeeLeft + "\n"
	return header
}

func BoxFooter(width int) string {
	return BoxBottomLeft + repeat(BoxHorizontal, width-2) + BoxBottomRight + "\n"
}

// BoxLine renders one content row, truncating content that does not fit
func BoxLine(content string, width int) string {
	maxLen := width - 4
	content = Truncate(content, maxLen)
	padding := maxLen - utf8.RuneCountInString(content)
	return BoxVertical + " " + content + repeat(" ", padding+1) + BoxVertical + "\n"
}

// Truncate shortens s to at most max runes, marking the cut with "..."
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func repeat(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}
