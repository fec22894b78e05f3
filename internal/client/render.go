package client

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/expensebridge/internal/util"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

// Renderer writes console output chunks to a terminal.
type Renderer struct {
	out   io.Writer
	color bool
	width int
}

// NewRenderer returns a Renderer. width <= 0 disables truncation.
func NewRenderer(out io.Writer, color bool, width int) *Renderer {
	return &Renderer{out: out, color: color, width: width}
}

// Render writes one chunk, always ending it with a newline.
func (r *Renderer) Render(chunk string) error {
	line := util.ChompNewline(chunk)
	if r.color {
		line = styleFor(line).Render(line)
	}
	if r.width > 0 {
		line = util.TruncateANSI(line, r.width)
	}
	_, err := io.WriteString(r.out, line+"\n")
	return err
}

func styleFor(line string) lipgloss.Style {
	switch {
	case strings.HasPrefix(line, "Error"), strings.HasPrefix(line, "Invalid"), strings.HasPrefix(line, "Unexpected error"):
		return errorStyle
	case strings.Contains(line, "successfully"), strings.HasPrefix(line, "Deleted:"):
		return successStyle
	case strings.HasPrefix(line, "Welcome"), strings.HasPrefix(line, "  "):
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}
