// Package speech adapts a session's audio stream: inbound frames become
// transcripts, outbound text becomes synthesized audio played in strict
// submission order.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/optiflow-ai/voice-core/pkg/speech/stt"
	"github.com/optiflow-ai/voice-core/pkg/speech/tts"
)

// ErrPipelineClosed is returned by PushFrame and Say after Close.
var ErrPipelineClosed = errors.New("speech pipeline closed")

const (
	defaultSayQueueSize = 32
	audioChunkSize      = 4096
)

// Failure is a speech backend error surfaced asynchronously. It never
// changes session state; the pipeline stays usable after one.
type Failure struct {
	Stage string // "stt" or "tts"
	Err   error
}

// Config configures a Pipeline. STT may be nil for text-only sessions; TTS
// may be nil when the session never speaks.
type Config struct {
	STT        stt.Provider
	TTS        tts.Provider
	STTOptions stt.SessionOptions
	TTSOptions tts.SynthesizeOptions
	QueueSize  int
	Logger     *slog.Logger
}

// SayOpts modifies one Say call.
type SayOpts struct {
	// BargeIn cancels the in-flight synthesis before this one is queued.
	// Already-queued requests keep their order.
	BargeIn bool
}

type sayRequest struct {
	ctx  context.Context
	text string
}

// Pipeline is owned by exactly one session. A single playback goroutine
// drains the Say queue so synthesized utterances never interleave.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	sttSession stt.Session
	events     chan stt.TranscriptDelta
	audio      chan []byte
	failures   chan Failure
	sayQueue   chan sayRequest

	inflightMu     sync.Mutex
	inflightCancel context.CancelFunc

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a pipeline. Call Start before use.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultSayQueueSize
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "speech"),
		events:   make(chan stt.TranscriptDelta, 100),
		audio:    make(chan []byte, 100),
		failures: make(chan Failure, 16),
		sayQueue: make(chan sayRequest, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start opens the transcription session and launches the playback loop. A
// failed STT connect is returned; the outbound half still works after it.
func (p *Pipeline) Start(ctx context.Context) error {
	p.wg.Add(1)
	go p.playbackLoop()

	if p.cfg.STT == nil {
		close(p.events)
		return nil
	}
	session, err := p.cfg.STT.NewSession(ctx, p.cfg.STTOptions)
	if err != nil {
		close(p.events)
		return err
	}
	p.sttSession = session

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.events)
		for delta := range session.Transcripts() {
			select {
			case p.events <- delta:
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

// PushFrame forwards one raw audio frame to the transcription session.
func (p *Pipeline) PushFrame(frame []byte) error {
	if p.closed.Load() {
		return ErrPipelineClosed
	}
	if p.sttSession == nil {
		return errors.New("no transcription session")
	}
	if err := p.sttSession.SendAudio(frame); err != nil {
		p.fail("stt", err)
		return err
	}
	return nil
}

// Say queues text for synthesis and playback. Requests play strictly in
// submission order; Say blocks only while the queue is full.
func (p *Pipeline) Say(ctx context.Context, text string, opts SayOpts) error {
	if p.closed.Load() {
		return ErrPipelineClosed
	}
	if opts.BargeIn {
		p.cancelInflight()
	}
	select {
	case p.sayQueue <- sayRequest{ctx: ctx, text: text}:
		return nil
	case <-p.done:
		return ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns final and partial transcript deltas.
func (p *Pipeline) Events() <-chan stt.TranscriptDelta {
	return p.events
}

// Audio returns synthesized audio chunks in playback order.
func (p *Pipeline) Audio() <-chan []byte {
	return p.audio
}

// Failures returns asynchronous backend failures.
func (p *Pipeline) Failures() <-chan Failure {
	return p.failures
}

// Close stops playback and the transcription session. Queued Say requests
// are dropped.
func (p *Pipeline) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.done)
	p.cancelInflight()
	var err error
	if p.sttSession != nil {
		err = p.sttSession.Close()
	}
	p.wg.Wait()
	close(p.audio)
	return err
}

func (p *Pipeline) playbackLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case req := <-p.sayQueue:
			p.play(req)
		}
	}
}

func (p *Pipeline) play(req sayRequest) {
	if p.cfg.TTS == nil {
		p.fail("tts", errors.New("no synthesis provider configured"))
		return
	}

	ctx, cancel := context.WithCancel(req.ctx)
	p.setInflight(cancel)
	synth, err := p.cfg.TTS.Synthesize(ctx, req.text, p.cfg.TTSOptions)
	p.setInflight(nil)
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.logger.Debug("synthesis interrupted", "text_len", len(req.text))
			return
		}
		p.fail("tts", err)
		return
	}

	for off := 0; off < len(synth.Audio); off += audioChunkSize {
		end := off + audioChunkSize
		if end > len(synth.Audio) {
			end = len(synth.Audio)
		}
		select {
		case p.audio <- synth.Audio[off:end]:
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) setInflight(cancel context.CancelFunc) {
	p.inflightMu.Lock()
	p.inflightCancel = cancel
	p.inflightMu.Unlock()
}

func (p *Pipeline) cancelInflight() {
	p.inflightMu.Lock()
	cancel := p.inflightCancel
	p.inflightCancel = nil
	p.inflightMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pipeline) fail(stage string, err error) {
	select {
	case p.failures <- Failure{Stage: stage, Err: err}:
	default:
		p.logger.Warn("failure channel full, dropping", "stage", stage, "error", err)
	}
}
