package status

import (
	"github.com/bnema/possync/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	peer       lipgloss.Style
	detail     lipgloss.Style
	warning    lipgloss.Style
	section    lipgloss.Style
	empty      lipgloss.Style
	tableHead  lipgloss.Style
	tableCell  lipgloss.Style
	tableFaint lipgloss.Style
	border     lipgloss.Style
	mine       lipgloss.Style
	theirs     lipgloss.Style
	pending    lipgloss.Style
	timestamp  lipgloss.Style
	prompt     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:      lipgloss.NewStyle().Bold(true),
		header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		peer:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:    lipgloss.NewStyle().MarginTop(1),
		empty:      lipgloss.NewStyle().Faint(true),
		tableHead:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250")).Padding(0, 1),
		tableCell:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 1),
		tableFaint: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1),
		border:     lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		mine:       lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		theirs:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		pending:    lipgloss.NewStyle().Faint(true).Italic(true),
		timestamp:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		prompt:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	}
}

func stateStyle(state domain.ConnectionState) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch state {
	case domain.StateConnected:
		return base.Foreground(lipgloss.Color("42"))
	case domain.StateConnecting, domain.StateReconnecting:
		return base.Foreground(lipgloss.Color("214"))
	case domain.StateFailed:
		return base.Foreground(lipgloss.Color("203"))
	default:
		return base.Foreground(lipgloss.Color("245"))
	}
}
