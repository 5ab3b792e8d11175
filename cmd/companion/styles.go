package main

import "github.com/charmbracelet/lipgloss"

var (
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	tagStyle     = lipgloss.NewStyle().Faint(true)
	thinkStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	meterStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	statusStyles = map[string]lipgloss.Style{
		"idle":       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"listening":  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		"processing": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"speaking":   lipgloss.NewStyle().Foreground(lipgloss.Color("170")),
		"error":      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}

	headerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color("240"))
)
