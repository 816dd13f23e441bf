package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// RunSummary carries the values shown on the startup banner.
type RunSummary struct {
	RunID      string
	InputPath  string
	ImagesDir  string
	Workers    int
	Resume     bool
	RowCount   int
}

// PrintBanner displays the pipeline's startup banner to stderr.
func PrintBanner(s RunSummary, logger *Logger) {
	version := GetVersion()
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 70
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		`    d8888 8888888b.  8888888888  .d88888b.  8888888b.   .d8888b.  8888888888`,
		`   d88888 888  "Y88b 888        d88P" "Y88b 888   Y88b d88P  Y88b 888`,
		`  d88P888 888    888 888        888     888 888    888 888    888 888`,
		` d88P 888 888    888 8888888    888     888 888   d88P 888        8888888`,
		`d88P  888 888    888 888        888     888 8888888P"  888  88888 888`,
		`d8888888888 888    888 888        888     888 888 T88b   888    888 888`,
		`888   888 888  .d88P 888        Y88b. .d88P 888  T88b  Y88b  d88P 888`,
		`888   888 8888888P"  888         "Y88888P"  888   T88b  "Y8888P88 8888888888`,
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s  Batch ad-image generation pipeline%s\n\n%s\n\n", textColor, banner.ColorReset, hr)

	kvPad := 14
	resumeStr := "no"
	if s.Resume {
		resumeStr = "yes"
	}
	kvLines := [][2]string{
		{"Version", version},
		{"Run ID", s.RunID},
		{"Input", s.InputPath},
		{"Images dir", s.ImagesDir},
		{"Rows", fmt.Sprintf("%d", s.RowCount)},
		{"Workers", fmt.Sprintf("%d", s.Workers)},
		{"Resume", resumeStr},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	logger.Info().
		Str("version", version).
		Str("run_id", s.RunID).
		Str("input", s.InputPath).
		Int("rows", s.RowCount).
		Int("workers", s.Workers).
		Bool("resume", s.Resume).
		Msg("Run starting")
}

// PrintShutdownBanner displays the pipeline's completion banner to stderr.
func PrintShutdownBanner(logger *Logger, elapsedSeconds float64, success, failed, placeholder int) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 50
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  RUN COMPLETE%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  success=%d failed=%d placeholder=%d elapsed=%.1fs%s\n",
		textColor, success, failed, placeholder, elapsedSeconds, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n\n", hr)

	logger.Info().
		Int("success", success).
		Int("failed", failed).
		Int("placeholder", placeholder).
		Float64("elapsed_seconds", elapsedSeconds).
		Msg("Run complete")
}
