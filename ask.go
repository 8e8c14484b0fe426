package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/stream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	noAudio    bool
	copyAnswer bool
	render     bool
	showStatus bool
	noStream   bool

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and narrate the streamed answer",
		Long: paragraph(fmt.Sprintf("\n%s a question. The answer is printed as it streams in and spoken sentence by sentence. "+
			"Press Ctrl+C once to stop narration and hide the rest of the answer, twice to abort.", keyword("Ask"))),
		Example: paragraph("narrate ask \"What is a vector store?\"\nnarrate ask --source rag --engine openai -\nnarrate ask --no-audio --render \"Summarize Go generics\""),
		Args:    cobra.MinimumNArgs(1),
		RunE:    executeAsk,
	}
)

func init() {
	askCmd.Flags().String("source", "openai", "answer source: openai or rag")
	askCmd.Flags().BoolVar(&noAudio, "no-audio", false, "show text only")
	askCmd.Flags().BoolVar(&copyAnswer, "copy", false, "copy the answer to the clipboard")
	askCmd.Flags().BoolVar(&render, "render", false, "render the finished answer as markdown")
	askCmd.Flags().BoolVar(&showStatus, "status", false, "print a narration summary line when done")
	askCmd.Flags().BoolVar(&noStream, "no-stream", false, "fetch the whole answer first (rag only)")

	_ = viper.BindPFlag("source", askCmd.Flags().Lookup("source"))
}

// questionFromArgs joins args; a single "-" reads the question from stdin.
func questionFromArgs(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from reader: %w", err)
		}
		args = []string{string(b)}
	}
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return "", stream.ErrEmptyQuestion
	}
	return question, nil
}

func executeAsk(cmd *cobra.Command, args []string) error {
	question, err := questionFromArgs(args, os.Stdin)
	if err != nil {
		return err
	}

	source, err := newSource(viper.GetString("source"))
	if err != nil {
		return err
	}

	if noStream {
		rag, ok := source.(*stream.RAGSource)
		if !ok {
			return fmt.Errorf("--no-stream is only supported with --source rag")
		}
		answer, err := rag.Query(cmd.Context(), question)
		if err != nil {
			return err
		}
		source = stream.NewReaderSource(strings.NewReader(answer), 0, 0)
	}

	n, err := newNarration(os.Stdout, noAudio)
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()

	return present(cmd.Context(), n, source, question)
}

// present runs the narration and prints what comes after the live text.
func present(ctx context.Context, n *narration, source stream.Source, question string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	err := n.run(ctx, source, question)
	fmt.Println()
	n.report(start)
	if err != nil {
		return err
	}

	if render {
		out, err := n.transcript.Render(style, int(width)) //nolint:gosec
		if err != nil {
			return err
		}
		fmt.Print(out)
	}

	if copyAnswer {
		if err := clipboard.WriteAll(n.transcript.String()); err != nil {
			log.Warn("Could not copy answer to clipboard", "error", err)
		}
	}

	if showStatus {
		if line := n.status(int(width)); line != "" { //nolint:gosec
			fmt.Fprintln(os.Stderr, line)
		}
	}
	return nil
}
