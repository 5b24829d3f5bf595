// Package cards renders tool calls as terminal cards. It provides renderers
// for the demo tools (weather, product search, product details and poems),
// a generic JSON card for any other tool and the failure card used as the
// dispatcher's error renderer. Every renderer returns the card as a string.
package cards

import (
	"github.com/charmbracelet/lipgloss"
)

// DefaultWidth is the card width used when none is configured.
const DefaultWidth = 60

// Theme holds the styles shared by the cards.
type Theme struct {
	width int

	frame      lipgloss.Style
	errorFrame lipgloss.Style
	title      lipgloss.Style
	errorTitle lipgloss.Style
	label      lipgloss.Style
	muted      lipgloss.Style
	accent     lipgloss.Style
	good       lipgloss.Style
	bad        lipgloss.Style
}

// NewTheme returns the default theme for cards width cells wide. A width
// below 20 selects DefaultWidth.
func NewTheme(width int) *Theme {
	if width < 20 {
		width = DefaultWidth
	}
	var (
		border = lipgloss.Color("63")
		red    = lipgloss.Color("196")
		grey   = lipgloss.Color("245")
		gold   = lipgloss.Color("214")
		green  = lipgloss.Color("42")
	)
	frame := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(width - 2)
	return &Theme{
		width:      width,
		frame:      frame,
		errorFrame: frame.BorderForeground(red),
		title:      lipgloss.NewStyle().Bold(true),
		errorTitle: lipgloss.NewStyle().Bold(true).Foreground(red),
		label:      lipgloss.NewStyle().Foreground(grey),
		muted:      lipgloss.NewStyle().Foreground(grey).Italic(true),
		accent:     lipgloss.NewStyle().Foreground(gold),
		good:       lipgloss.NewStyle().Foreground(green),
		bad:        lipgloss.NewStyle().Foreground(red),
	}
}

// Width returns the outer card width.
func (th *Theme) Width() int { return th.width }

func (th *Theme) card(title string, lines ...string) string {
	body := lipgloss.JoinVertical(lipgloss.Left, append([]string{th.title.Render(title)}, lines...)...)
	return th.frame.Render(body)
}

func (th *Theme) errorCard(title string, lines ...string) string {
	body := lipgloss.JoinVertical(lipgloss.Left, append([]string{th.errorTitle.Render(title)}, lines...)...)
	return th.errorFrame.Render(body)
}

func (th *Theme) field(name, value string) string {
	return th.label.Render(name+":") + " " + value
}
