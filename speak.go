package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgnsrekt/narrate/internal/stream"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

var (
	chunkRunes int
	pace       time.Duration
	fromStart  bool

	speakCmd = &cobra.Command{
		Use:     "speak [FILE|-]",
		Short:   "Narrate a text file or stdin",
		Long:    paragraph(fmt.Sprintf("\n%s a text file, replayed as a stream so narration starts before the end is read.", keyword("Speak"))),
		Example: paragraph("narrate speak notes.md --engine tone\necho \"Hello。World。\" | narrate speak -"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    executeSpeak,
	}

	followCmd = &cobra.Command{
		Use:     "follow FILE",
		Short:   "Narrate text as it is appended to a file",
		Long:    paragraph(fmt.Sprintf("\n%s a file and narrate what gets appended to it. Ctrl+C stops narration, pressing it again exits.", keyword("Follow"))),
		Example: paragraph("narrate follow answer.txt --engine openai"),
		Args:    cobra.ExactArgs(1),
		RunE:    executeFollow,
	}
)

func init() {
	speakCmd.Flags().IntVar(&chunkRunes, "chunk", 8, "runes per streamed chunk")
	speakCmd.Flags().DurationVar(&pace, "pace", 30*time.Millisecond, "pause between chunks")
	speakCmd.Flags().BoolVar(&noAudio, "no-audio", false, "show text only")
	speakCmd.Flags().BoolVar(&render, "render", false, "render the text as markdown when done")
	speakCmd.Flags().BoolVar(&showStatus, "status", false, "print a narration summary line when done")

	followCmd.Flags().BoolVar(&fromStart, "from-start", false, "also narrate the current content")
	followCmd.Flags().BoolVar(&showStatus, "status", false, "print a narration summary line when done")
}

// openInput opens a file argument; no argument or "-" is stdin.
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	path, err := homedir.Expand(args[0])
	if err != nil {
		return nil, fmt.Errorf("unable to expand path: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	return f, nil
}

func executeSpeak(cmd *cobra.Command, args []string) error {
	r, err := openInput(args)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	n, err := newNarration(os.Stdout, noAudio)
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()

	return present(cmd.Context(), n, stream.NewReaderSource(r, chunkRunes, pace), "")
}

func executeFollow(cmd *cobra.Command, args []string) error {
	path, err := homedir.Expand(args[0])
	if err != nil {
		return fmt.Errorf("unable to expand path: %w", err)
	}

	n, err := newNarration(os.Stdout, false)
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()

	return present(cmd.Context(), n, stream.NewFollowSource(path, fromStart), "")
}
