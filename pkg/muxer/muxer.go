// Package muxer wraps ffmpeg to copy an HLS stream's codecs into a single
// MP4 container, without re-encoding.
package muxer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Muxer remuxes a remote HLS master playlist into a local MP4 file.
type Muxer struct {
	ffmpegPath string
	timeout    time.Duration
}

// New creates a Muxer. ffmpeg is assumed to be on PATH.
func New() *Muxer {
	return &Muxer{ffmpegPath: "ffmpeg", timeout: 20 * time.Minute}
}

// RemuxHLSToMP4 downloads hlsURL and writes it to outputPath as an MP4
// container with `-c copy` (stream copy, no transcode). The archival
// worker uses this for any job whose download URL is itself an HLS
// playlist.
func (m *Muxer) RemuxHLSToMP4(ctx context.Context, hlsURL, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffmpegPath,
		"-y",
		"-user_agent", "Mozilla/5.0",
		"-i", hlsURL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg remux failed: %w: %s", err, truncate(output, 2000))
	}

	if info, statErr := os.Stat(outputPath); statErr != nil || info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced an empty or missing output file")
	}
	return nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}
