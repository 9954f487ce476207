package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAF9F6")).
			Background(lipgloss.Color("#2C3E50")).Padding(0, 1)
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C0392B")).Bold(true)
	slotStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4A4A4A")).Padding(0, 1).Width(36)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
)

var statusColors = map[studio.TargetStatus]string{
	studio.StatusWaiting:    "#6C6C6C",
	studio.StatusLoading:    "#2B3D41",
	studio.StatusGenerating: "#2E86C1",
	studio.StatusRendering:  "#D68910",
	studio.StatusDone:       "#27AE60",
	studio.StatusFailed:     "#C0392B",
}

var statusLabels = map[studio.TargetStatus]string{
	studio.StatusWaiting:    "待命",
	studio.StatusLoading:    "载入",
	studio.StatusGenerating: "生成中",
	studio.StatusRendering:  "采样中",
	studio.StatusDone:       "完成",
	studio.StatusFailed:     "失败",
}

func badge(status studio.TargetStatus) string {
	color, ok := statusColors[status]
	if !ok {
		color = "#6C6C6C"
	}
	label, ok := statusLabels[status]
	if !ok {
		label = string(status)
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color(color)).
		Padding(0, 1).
		Render(label)
}
