// Package tts provides text-to-speech synthesis.
package tts

import "context"

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // voice identifier
	Model      string  // provider-specific model
	Speed      float64 // speed multiplier (provider range)
	Format     string  // output format hint
	SampleRate int     // sample rate in Hz
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio  []byte
	Format string
}
