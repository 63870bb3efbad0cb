package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/dynamics"
	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/piece"
)

const (
	cardWidth    = 22
	logTailLines = 6
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	bodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	playStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	restStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	sections := []string{
		headerStyle.Render("◆ IMPROV SCORE"),
		a.renderStatusLine(),
	}
	if a.state != stateReady {
		sections = append(sections, a.progress.ViewAs(a.fraction()))
	}
	sections = append(sections,
		a.renderEnsemble(width),
		a.renderArcPanel(),
	)
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := a.statusMsg
	if a.err != nil {
		footer = errorStyle.Render(a.err.Error())
	}
	sections = append(sections, dimStyle.MarginTop(1).Render(footer), a.help.View(a.keys))
	return strings.Join(sections, "\n")
}

func (a *App) renderStatusLine() string {
	switch a.state {
	case stateReady:
		return titleStyle.Render("READY") + "  " + bodyStyle.Render(settingsSummary(a.settings))
	case stateFinished:
		return titleStyle.Render("FINISHED") + "  " + bodyStyle.Render(fmt.Sprintf("%d prompts", a.prompts))
	}
	label := "PERFORMING"
	if a.engine != nil {
		switch a.engine.State() {
		case engine.StatePreRoll:
			label = "PRE-ROLL"
		case engine.StateEnding:
			label = "ENDING"
		}
	}
	total := a.settings.Duration()
	parts := []string{
		fmt.Sprintf("%s / %s", clockLabel(a.elapsed), clockLabel(total)),
		fmt.Sprintf("prompt %d", a.prompts),
		fmt.Sprintf("activity %.2f", a.activity),
	}
	if a.regime != "" {
		parts = append(parts, string(a.regime))
	}
	return titleStyle.Render(label) + "  " + bodyStyle.Render(strings.Join(parts, " · "))
}

func (a *App) fraction() float64 {
	total := a.settings.Duration()
	if total <= 0 || a.elapsed <= 0 {
		return 0
	}
	return min(1, float64(a.elapsed)/float64(total))
}

// renderEnsemble lays the performer cards out in as many columns as fit.
func (a *App) renderEnsemble(width int) string {
	n := a.settings.NumPlayers
	perRow := max(1, width/(cardWidth+4))
	var rows []string
	for start := 0; start < n; start += perRow {
		end := min(n, start+perRow)
		cards := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			cards = append(cards, a.renderPerformer(i))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (a *App) renderPerformer(i int) string {
	in := a.cues.Resize(i + 1)[i]
	var state string
	if in.Playing() {
		state = playStyle.Render(strings.ToUpper(in.Label()))
	} else {
		state = restStyle.Render(strings.ToUpper(in.Label()))
	}
	next := " "
	if i < len(a.countdowns) && a.countdowns[i] != nil {
		cd := a.countdowns[i]
		next = pendingStyle.Render(fmt.Sprintf("→ %s in %d", cd.Label, cd.Secs))
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("Player %d", i+1)),
		state,
		next,
	)
	return panelStyle.Width(cardWidth).Render(body)
}

// renderArcPanel shows the preview sparkline with a marker at the current
// position of the piece.
func (a *App) renderArcPanel() string {
	lo := dynamics.At(a.settings.Dynamics.Min).Loudness
	hi := dynamics.At(a.settings.Dynamics.Max).Loudness
	line := arc.Sparkline(normalizeRange(a.preview, lo, hi))
	lines := []string{
		titleStyle.Render(fmt.Sprintf("ARC · %s", a.settings.Arc)),
		bodyStyle.Render(line),
	}
	if a.state == statePerforming && len(a.preview) > 1 {
		pos := int(a.fraction()*float64(len(a.preview)-1) + 0.5)
		lines = append(lines, pendingStyle.Render(strings.Repeat(" ", pos)+"▲"))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	entries, total := a.logbook.Tail(logTailLines)
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%s %-6s %s", e.At.Local().Format("15:04:05"), e.Kind, e.Message)
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "journal"
	}
	head := titleStyle.Render(fmt.Sprintf("JOURNAL · %s (%d entries)", fileName, total))
	body := bodyStyle.Render(strings.Join(lines, "\n"))
	return panelStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

// normalizeRange maps preview loudness into [0,1] relative to the configured
// dynamic range so a narrow range still fills the sparkline.
func normalizeRange(values []float64, lo, hi float64) []float64 {
	out := make([]float64, len(values))
	span := hi - lo
	for i, v := range values {
		if span <= 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (v - lo) / span
	}
	return out
}

func settingsSummary(s piece.Settings) string {
	return fmt.Sprintf("%g min · %g-%gs · %s-%s · contrast %.2f · %s · %d players",
		s.DurationMinutes,
		s.Interval.Min, s.Interval.Max,
		dynamics.At(s.Dynamics.Min).Mark, dynamics.At(s.Dynamics.Max).Mark,
		s.Contrast,
		s.Arc,
		s.NumPlayers,
	)
}

func clockLabel(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%s%d:%02d", sign, secs/60, secs%60)
}
