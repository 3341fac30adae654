// Package engine adapts the external speech-recognition collaborators:
// the whisper sidecar that does the actual transcription and the ffmpeg
// normalization step that precedes it.
package engine

import (
	"context"

	"whisperd/pkg/types"
)

// Transcription is the engine's answer for one audio file.
type Transcription struct {
	Text       string
	Segments   []types.Segment
	TokenCount int
}

// Transcriber runs speech recognition on a normalized wav, scoped to one
// accelerator device.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath, model, language string, device int) (*Transcription, error)
}

// Normalizer converts an uploaded file into mono 16 kHz PCM suitable for
// the engine.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
}
