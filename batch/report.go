package batch

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	title   = "Studio White Background + WebP Processor"
	ruleLen = 50
)

type Theme struct {
	Title   lipgloss.Style
	Faint   lipgloss.Style
	OK      lipgloss.Style
	Failed  lipgloss.Style
	Skipped lipgloss.Style
	Warn    lipgloss.Style
}

func NewTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		Title:   r.NewStyle().Bold(true),
		Faint:   r.NewStyle().Faint(true),
		OK:      r.NewStyle().Foreground(lipgloss.Color("42")),
		Failed:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Skipped: r.NewStyle().Foreground(lipgloss.Color("244")),
		Warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// Reporter prints human progress of a run. Styling is dropped when w is not a terminal.
type Reporter struct {
	w     io.Writer
	theme Theme
}

func NewReporter(w io.Writer) *Reporter {
	return &Reporter{
		w:     w,
		theme: NewTheme(lipgloss.NewRenderer(w)),
	}
}

func (r *Reporter) rule() string {
	return strings.Repeat("=", ruleLen)
}

func (r *Reporter) Header(inputRoot, outputRoot, runID string) {
	fmt.Fprintln(r.w, r.theme.Title.Render(title))
	fmt.Fprintln(r.w, r.rule())
	fmt.Fprintf(r.w, "Input (original): %s\n", inputRoot)
	fmt.Fprintf(r.w, "Output (WebP): %s\n", outputRoot)
	if runID != "" {
		fmt.Fprintln(r.w, r.theme.Faint.Render("Run: "+runID))
	}
	fmt.Fprintln(r.w, r.rule())
}

func (r *Reporter) MissingFolder(path string) {
	fmt.Fprintln(r.w, r.theme.Warn.Render("Folder not found: "+path))
}

func (r *Reporter) UnreadableFolder(path string, err error) {
	fmt.Fprintln(r.w, r.theme.Failed.Render(fmt.Sprintf("Folder not readable: %s (%v)", path, err)))
}

func (r *Reporter) Folder(name string, count int) {
	fmt.Fprintf(r.w, "\nProcessing %s: %d images\n", name, count)
}

// Start prints the progress prefix of one image; Done or Skipped completes the line.
func (r *Reporter) Start(i, n int, input, output string) {
	fmt.Fprintf(r.w, "  [%d/%d] %s -> %s... ", i, n, filepath.Base(input), filepath.Base(output))
}

func (r *Reporter) Done(ok bool) {
	if ok {
		fmt.Fprintln(r.w, r.theme.OK.Render("OK"))
		return
	}
	fmt.Fprintln(r.w, r.theme.Failed.Render("FAILED"))
}

// Warning prints a note under the line of an image that was written but looks wrong.
func (r *Reporter) Warning(msg string) {
	fmt.Fprintln(r.w, r.theme.Warn.Render("      warning: "+msg))
}

func (r *Reporter) Skipped() {
	fmt.Fprintln(r.w, r.theme.Skipped.Render("SKIPPED"))
}

func (r *Reporter) Summary(s Summary, outputRoot string) {
	fmt.Fprintf(r.w, "\n%s\n", r.rule())
	line := fmt.Sprintf("Completed: %d processed, %d failed", s.Processed, s.Failed)
	if s.Skipped > 0 {
		line += fmt.Sprintf(", %d skipped", s.Skipped)
	}
	if s.Warned > 0 {
		line += fmt.Sprintf(", %d with warnings", s.Warned)
	}
	fmt.Fprintln(r.w, r.theme.Title.Render(line))
	fmt.Fprintf(r.w, "Output folder: %s\n", outputRoot)
	if s.Elapsed > 0 {
		fmt.Fprintln(r.w, r.theme.Faint.Render("Elapsed: "+s.Elapsed.Round(time.Millisecond).String()))
	}
}
