package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/narrate/internal/tts"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
)

var (
	playingStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#89F0CB"})
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFFF00"})
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	noteStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"})
)

// Status renders a one-line narration summary, padded or truncated to width.
// width 0 leaves the line as is.
func Status(state ttypes.State, stats tts.PipelineStats, width int) string {
	var indicator string
	switch state {
	case ttypes.StatePlaying:
		indicator = playingStyle.Render("▶ narrating")
	case ttypes.StateStopped:
		indicator = stoppedStyle.Render("■ stopped")
	default:
		indicator = idleStyle.Render("● idle")
	}

	parts := []string{
		indicator,
		noteStyle.Render(fmt.Sprintf("%d/%d played", stats.Played, stats.Sentences)),
	}
	if stats.CacheHits > 0 {
		parts = append(parts, noteStyle.Render(fmt.Sprintf("%d cached", stats.CacheHits)))
	}
	if stats.Cache.Size > 0 {
		parts = append(parts, noteStyle.Render(humanize.Bytes(uint64(stats.Cache.Size))))
	}
	if failed := stats.SynthesisErrors + stats.DecodeErrors + stats.PlaybackErrors; failed > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	if stats.Queue.Stalls > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d skipped", stats.Queue.Stalls)))
	}

	line := strings.Join(parts, noteStyle.Render(" · "))
	if width <= 0 {
		return line
	}

	line = truncate.StringWithTail(line, uint(width), "…")
	if w := lipgloss.Width(line); w < width {
		line += strings.Repeat(" ", width-w)
	}
	return line
}

// Summary renders the end-of-answer report in plain text.
func Summary(stats tts.PipelineStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s\n", stats.SessionID)

	rows := [][2]string{
		{"sentences", fmt.Sprint(stats.Sentences)},
		{"played", fmt.Sprint(stats.Played)},
		{"synthesized", fmt.Sprint(stats.Synthesized)},
		{"cache hits", fmt.Sprint(stats.CacheHits)},
		{"silent", fmt.Sprint(stats.Silent)},
		{"synthesis errors", fmt.Sprint(stats.SynthesisErrors)},
		{"decode errors", fmt.Sprint(stats.DecodeErrors)},
		{"stalls", fmt.Sprint(stats.Queue.Stalls)},
		{"stopped", fmt.Sprint(stats.Stopped + stats.Discarded)},
	}

	label := 0
	for _, row := range rows {
		label = max(label, runewidth.StringWidth(row[0]))
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "  %s%s  %s\n", row[0], strings.Repeat(" ", label-runewidth.StringWidth(row[0])), row[1])
	}
	return b.String()
}
