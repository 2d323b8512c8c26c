package runner

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

// banner boxes messages. A width <= 0 uses the terminal width of stderr.
func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(int(os.Stderr.Fd()))
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		paddingRight := max(contentWidth-runewidth.StringWidth(line), 0)

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

// Banner prints the run mode and the store in use to stderr.
func Banner(cfg *Config) {
	mode := "web server on " + cfg.Addr + ", in-process token sweep every " + cfg.SweepInterval.String()
	if cfg.RunMode == RunModeWorker {
		mode = "asynq worker, token sweep every " + cfg.SweepInterval.String()
	}

	store := "sqlite in " + cfg.DataFolder
	if cfg.Dsn != "" {
		store = "postgres"
	}

	messages := []string{
		"📺 Vector CRM YouTube integration",
		"mode: " + mode,
		"store: " + store,
	}

	if cfg.Debug {
		messages = append(messages, "debug logging enabled")
	}

	fmt.Fprintln(os.Stderr, banner(messages, 0))
}
