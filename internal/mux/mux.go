// Package mux concatenates a sorted list of probed audio files into one
// output container, preserving the first input's codec parameters and
// time-base and dropping every non-audio stream. Grounded the same way as
// internal/media: an exec'd ffmpeg subprocess, since no repo in this pack
// binds libav/gstreamer directly.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
)

// shortNameByExtension maps a target extension to ffmpeg's output format
// short name, per the single special case the spec calls out: m4b selects
// the ipod short name so Apple/Audible-style chaptered containers are
// produced correctly.
var shortNameByExtension = map[string]string{
	"m4b": "ipod",
}

// Merge concatenates inputs (already sorted into codec-compatible, in-order
// form by the caller) into one output container at targetPath. Output format
// is chosen from targetPath's extension; faststart is set only for m4b
// targets (written with the ipod muxer). Any ffmpeg failure aborts and
// propagates, and any partial file at targetPath is removed first.
func Merge(ctx context.Context, targetPath string, inputs []string) error {
	if len(inputs) == 0 {
		return vorlerrors.InvalidInput("merge requires at least one input")
	}

	listFile, err := writeConcatList(inputs)
	if err != nil {
		return err
	}
	defer os.Remove(listFile)

	ext := strings.TrimPrefix(filepath.Ext(targetPath), ".")
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-map", "0:a:0",
		"-c:a", "copy",
	}
	if shortName, ok := shortNameByExtension[ext]; ok {
		args = append(args, "-f", shortName, "-movflags", "faststart")
	}
	args = append(args, targetPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(targetPath)
		return vorlerrors.MediaError("ffmpeg-mux", strings.TrimSpace(stderr.String()))
	}
	return nil
}

// writeConcatList writes inputs as an ffmpeg concat-demuxer list file and
// returns its path.
func writeConcatList(inputs []string) (string, error) {
	f, err := os.CreateTemp("", "vorleser-concat-*.txt")
	if err != nil {
		return "", vorlerrors.Io("creating concat list", err)
	}
	defer f.Close()

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return "", vorlerrors.Io("resolving input path", err)
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(abs)); err != nil {
			return "", vorlerrors.Io("writing concat list", err)
		}
	}
	return f.Name(), nil
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", "'\\''")
}
