package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// render draws the full dashboard.
func (m Model) render() string {
	sections := []string{
		m.renderHeader(),
		m.renderSlotTable(),
		m.renderLifecycle(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-worker-swarm │ Workers: %d/%d │ Elapsed: %s ",
		m.LiveWorkers(),
		m.target,
		formatClock(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

func (m Model) renderSlotTable() string {
	rows := []string{
		tableHeaderStyle.Render(fmt.Sprintf("%-5s %-8s %-15s %-12s %-12s %-6s",
			"SLOT", "PID", "STAGE", "HB AGE", "UPTIME", "KILLS")),
	}

	for _, s := range m.slots {
		if s.Pid == 0 && !s.Alive {
			rows = append(rows, statusDim.Render(fmt.Sprintf("%-5d %-8s %-15s %-12s %-12s %-6s",
				s.ID, "-", "empty", "-", "-", "-")))
			continue
		}
		stage := stageStyle(s.Stage).Render(fmt.Sprintf("%-15s", s.Stage.String()))
		rows = append(rows, fmt.Sprintf("%-5d %-8d %s %-12s %-12s %-6d",
			s.ID,
			s.Pid,
			stage,
			formatAge(s.HeartbeatAge),
			formatAge(s.Uptime),
			s.KillCount,
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Worker Slots")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderLifecycle() string {
	s := m.summary
	rows := []string{
		renderKeyValue("Total Starts", fmt.Sprintf("%d", s.TotalStarts)),
		renderKeyValue("Total Reaps", fmt.Sprintf("%d", s.TotalReaps)),
		renderKeyValue("Clean / Error", fmt.Sprintf("%d / %d", s.CleanExits, s.ErrorExits)),
		renderKeyValue("Heartbeats", fmt.Sprintf("%d", s.HeartbeatCount)),
	}
	if s.HeartbeatGapP50 > 0 {
		rows = append(rows, renderKeyValue("HB Gap P50/P99",
			fmt.Sprintf("%s / %s",
				s.HeartbeatGapP50.Round(time.Millisecond),
				s.HeartbeatGapP99.Round(time.Millisecond))))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Lifecycle")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderFooter() string {
	return footerStyle.Render(fmt.Sprintf(
		" q: quit │ r: refresh │ metrics: http://%s/metrics │ updated %s ago",
		m.metricsAddr,
		time.Since(m.lastUpdate).Round(time.Second),
	))
}

// formatClock formats a duration as HH:MM:SS.
func formatClock(d time.Duration) string {
	h := int(d.Hours())
	mi := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, mi, s)
}

// formatAge renders short human ages like 850ms, 2.5s, 4m10s.
func formatAge(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
