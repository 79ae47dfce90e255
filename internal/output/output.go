// Package output provides CLI result rendering and status formatting.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// Writer provides formatted status output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer. Color is enabled only when out is a terminal.
func New(out io.Writer) *Writer {
	useColor := false
	if f, ok := out.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, useColor: useColor}
}

func (w *Writer) styled(style lipgloss.Style, s string) string {
	if !w.useColor {
		return s
	}
	return style.Render(s)
}

// Status prints a plain status line.
func (w *Writer) Status(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s\n", msg)
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(format string, args ...any) {
	w.Status(fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styled(successStyle, "ok"), msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styled(warningStyle, "warning:"), msg)
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styled(errorStyle, "error:"), msg)
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Detail prints a dimmed secondary line.
func (w *Writer) Detail(msg string) {
	_, _ = fmt.Fprintf(w.out, "  %s\n", w.styled(dimStyle, msg))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints an in-place progress bar. Callers should finish the
// line with ProgressDone when total is never reached.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)

	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// ProgressDone completes a progress line with a newline.
func (w *Writer) ProgressDone() {
	_, _ = fmt.Fprintln(w.out)
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))

	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
