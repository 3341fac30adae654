package engine

import (
	"context"
	"fmt"
	"os/exec"
)

// FFmpeg normalizes audio by shelling out to ffmpeg: mono, 16 kHz, with
// leading silence trimmed. The filter arguments match what the whisper
// models were tuned against.
type FFmpeg struct {
	Path string
}

func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

func (f *FFmpeg) Normalize(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, f.Path,
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-af", "silenceremove=start_periods=1:start_silence=0.5:start_threshold=-40dB",
		outputPath,
	)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg preprocessing failed: %w", err)
	}
	return nil
}
