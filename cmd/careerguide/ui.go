package main

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a94a6"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
)

// renderMarkdown converts a completed reply to styled terminal output,
// falling back to the raw text.
func renderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// prettyJSON indents raw, returning it unchanged when it is not JSON.
func prettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
