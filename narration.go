package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/display"
	"github.com/dgnsrekt/narrate/internal/stream"
	"github.com/dgnsrekt/narrate/internal/tts"
	"github.com/dgnsrekt/narrate/internal/tts/engines"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"golang.org/x/sync/errgroup"
)

var errInterrupted = errors.New("interrupted")

// narration wires a text source to the transcript and, when an engine is
// selected, to the speech pipeline.
type narration struct {
	transcript *display.Transcript
	pipeline   *tts.Pipeline // nil when narration is off
	synth      ttypes.Synthesizer
	closers    []func() error
}

// newNarration builds the output side. With noAudio or no engine selected
// only text is shown.
func newNarration(out io.Writer, noAudio bool) (*narration, error) {
	n := &narration{transcript: display.NewTranscript(out)}

	cfg, err := loadTTSConfig()
	if err != nil {
		return nil, err
	}
	if noAudio || cfg.Engine == ttypes.EngineNone {
		log.Debug("Narration disabled", "no_audio", noAudio, "engine", cfg.Engine)
		return n, nil
	}

	synth, err := tts.NewSynthesizer(cfg)
	if err != nil {
		return nil, err
	}
	n.synth = synth
	n.closers = append(n.closers, synth.Close)

	device, err := audio.NewDevice(loadDeviceConfig())
	if err != nil {
		_ = n.Close()
		return nil, fmt.Errorf("unable to open audio device: %w", err)
	}
	n.closers = append(n.closers, device.Close)

	var audioCache ttypes.AudioCache
	if cfg.CacheSize > 0 {
		memory, err := cache.NewMemoryCache(cfg.CacheSize, 1)
		if err != nil {
			_ = n.Close()
			return nil, err
		}
		audioCache = memory
		n.closers = append(n.closers, memory.Close)
	}

	pipeline, err := tts.NewPipeline(cfg, synth, audio.NewCodec(device.Format()), device, audioCache)
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	n.pipeline = pipeline
	n.closers = append(n.closers, pipeline.Close)

	log.Info("Narration ready", "engine", cfg.Engine, "session", pipeline.SessionID())
	return n, nil
}

// run streams question from source. The first interrupt stops narration
// and hides the rest of the answer; a second one aborts the stream.
func (n *narration) run(ctx context.Context, source stream.Source, question string) error {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)

		err := source.Stream(gctx, question, n.feed)
		if err != nil {
			return err
		}
		return n.finish(gctx)
	})

	g.Go(func() error {
		interrupted := false
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-sigs:
				if interrupted {
					return errInterrupted
				}
				interrupted = true
				n.interrupt()
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, errInterrupted) || (n.transcript.Suppressed() && errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}

// feed shows one chunk and hands it to the pipeline.
func (n *narration) feed(chunk string) error {
	if err := n.transcript.Write(chunk); err != nil {
		return err
	}
	if n.pipeline == nil {
		return nil
	}
	if err := n.pipeline.Feed(chunk); err != nil && !errors.Is(err, tts.ErrPipelineClosed) {
		return err
	}
	return nil
}

// finish narrates what the segmenter still holds and waits for playback.
func (n *narration) finish(ctx context.Context) error {
	if n.pipeline == nil {
		return nil
	}
	if err := n.pipeline.Finish(); err != nil {
		return err
	}
	return n.pipeline.Wait(ctx)
}

// interrupt silences narration and hides further text.
func (n *narration) interrupt() {
	n.transcript.Suppress()
	if n.pipeline != nil {
		n.pipeline.SetDisplayText(false)
		n.pipeline.Stop()
	}
	log.Info("Narration interrupted")
}

// report logs the pipeline summary.
func (n *narration) report(start time.Time) {
	if n.pipeline == nil {
		return
	}
	stats := n.pipeline.Stats()
	log.Info("Narration finished",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"sentences", stats.Sentences,
		"played", stats.Played,
		"stalls", stats.Queue.Stalls)
	if fallback, ok := n.synth.(*engines.FallbackEngine); ok {
		log.Info("Synthesis engine", "status", fallback.Status())
	}
	log.Debug("Narration summary\n" + display.Summary(stats))
}

// status renders the one-line narration status.
func (n *narration) status(width int) string {
	if n.pipeline == nil {
		return ""
	}
	return display.Status(n.pipeline.State(), n.pipeline.Stats(), width)
}

// Close releases everything in reverse order of creation.
func (n *narration) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	n.closers = nil
	return errors.Join(errs...)
}
