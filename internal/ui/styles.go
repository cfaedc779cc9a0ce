// Package ui renders cart output for terminals.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "111"}).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "78"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	doneStyle   = mutedStyle.Strikethrough(true)
	badgeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("111")).Padding(0, 1)
)

func init() {
	if !IsTerminal(os.Stdout) {
		DisableColor()
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// DisableColor switches rendering to plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// RenderBadge renders a short label such as a group name or role.
func RenderBadge(s string) string { return badgeStyle.Render(s) }

// RenderItem renders one list row.
func RenderItem(it schema.Item) string {
	box := "[ ]"
	name := it.Name
	if it.Completed {
		box = "[x]"
		name = doneStyle.Render(name)
	}
	icon := it.Icon
	if icon == "" {
		icon = " "
	}
	row := fmt.Sprintf("%s %s %s %s", box, icon, name, RenderMuted(it.Category))
	if it.Pending {
		row += " " + RenderWarn("(saving)")
	}
	return row
}

// RenderList renders items with a header counting the remaining ones.
func RenderList(group string, items []schema.Item) string {
	var b strings.Builder
	active := 0
	for _, it := range items {
		if !it.Completed {
			active++
		}
	}
	fmt.Fprintf(&b, "%s %s\n", RenderBadge(group), RenderMuted(fmt.Sprintf("%d to buy, %d total", active, len(items))))
	if len(items) == 0 {
		b.WriteString(RenderMuted("  (empty)") + "\n")
		return b.String()
	}
	for _, it := range items {
		b.WriteString("  " + RenderItem(it) + "\n")
	}
	return b.String()
}
