package client

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
)

var (
	statusStyle = lipgloss.NewStyle().Faint(true)
	roomStyle   = lipgloss.NewStyle().Bold(true)
)

var banner = buildBanner()

func buildBanner() string {
	fig := figure.NewFigure("CampusChat", "small", true)
	return fig.String()
}

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	b.WriteString(a.input.View())
	b.WriteString("\n")
	b.WriteString(roomStyle.Render(a.room))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(a.status))

	return b.String()
}

func (a *App) refreshViewport() {
	if !a.ready {
		return
	}
	if len(a.lines) == 0 {
		a.viewport.SetContent(banner + "\nNo messages yet. Type and press Enter to send.")
		return
	}
	a.viewport.SetContent(strings.Join(a.lines, "\n"))
	a.viewport.GotoBottom()
}
