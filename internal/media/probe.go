// Package media wraps the native media framework (ffprobe/ffmpeg, exec'd as
// subprocesses — the only "native media framework" binding pattern this
// corpus demonstrates anywhere) to provide the MediaProbe operations:
// duration, chapters, container tag metadata, audio-track presence, and
// cover-art extraction from arbitrary audio containers.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
)

// Chapter is a chapter read from a container's own metadata.
type Chapter struct {
	Title     string
	StartTime time.Duration
}

// Probe is an opened media file ready to answer MediaProbe queries.
type Probe struct {
	path     string
	format   ffprobeFormat
	streams  []ffprobeStream
	chapters []ffprobeChapter
}

// Open runs ffprobe against path and returns a Probe over its container
// metadata. It fails with NotAnAudioFile if the container has no audio
// stream, and with MediaError for any ffprobe-level failure.
func Open(ctx context.Context, path string) (*Probe, error) {
	if !utf8.ValidString(path) {
		return nil, vorlerrors.InvalidInput(fmt.Sprintf("%s: invalid utf-8 path", path))
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_chapters",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, vorlerrors.MediaError("ffprobe", strings.TrimSpace(stderr.String()))
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, vorlerrors.MediaError("ffprobe-decode", err.Error())
	}

	p := &Probe{path: path, format: out.Format, streams: out.Streams, chapters: out.Chapters}
	if !p.HasAudioTrack() {
		return nil, vorlerrors.NotAnAudioFile(path)
	}
	return p, nil
}

// Duration returns the container's duration in seconds.
func (p *Probe) Duration() float64 {
	d, _ := strconv.ParseFloat(p.format.Duration, 64)
	return d
}

// Chapters returns the container's chapter list, in source order.
func (p *Probe) Chapters() []Chapter {
	result := make([]Chapter, 0, len(p.chapters))
	for _, c := range p.chapters {
		start, _ := strconv.ParseFloat(c.StartTime, 64)
		title := ""
		if c.Tags != nil {
			title = c.Tags["title"]
		}
		result = append(result, Chapter{Title: title, StartTime: time.Duration(start * float64(time.Second))})
	}
	return result
}

// Metadata returns the container's tag dictionary, case-preserving keys.
func (p *Probe) Metadata() map[string]string {
	if p.format.Tags == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(p.format.Tags))
	for k, v := range p.format.Tags {
		out[k] = v
	}
	return out
}

// HasAudioTrack reports whether any stream is of audio type.
func (p *Probe) HasAudioTrack() bool {
	for _, s := range p.streams {
		if s.CodecType == "audio" {
			return true
		}
	}
	return false
}

// BestStream returns the index of the best stream of mediaType ("audio" or
// "video"), mirroring ffmpeg's own best-stream selection (first matching
// stream, since ffprobe's JSON output already lists streams in container
// order and this core has no multi-stream-per-type containers to rank).
func (p *Probe) BestStream(mediaType string) (int, error) {
	for i, s := range p.streams {
		if s.CodecType == mediaType {
			return i, nil
		}
	}
	return 0, vorlerrors.InvalidState(fmt.Sprintf("no %s stream", mediaType))
}

// CoverArt extracts the first video-stream packet as a PNG or JPEG blob, or
// returns ok=false if the container carries no cover art frame of a
// recognized image codec.
func (p *Probe) CoverArt(ctx context.Context) (data []byte, ok bool, err error) {
	videoIdx := -1
	var codec string
	for i, s := range p.streams {
		if s.CodecType == "video" {
			videoIdx = i
			codec = s.CodecName
			break
		}
	}
	if videoIdx == -1 {
		return nil, false, nil
	}
	if codec != "mjpeg" && codec != "png" {
		return nil, false, nil
	}

	ext := "jpg"
	if codec == "png" {
		ext = "png"
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", p.path,
		"-map", fmt.Sprintf("0:%d", videoIdx),
		"-frames:v", "1",
		"-c", "copy",
		"-f", "image2pipe",
		"-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, false, vorlerrors.MediaError("ffmpeg-coverart", strings.TrimSpace(stderr.String()))
	}
	_ = ext
	return stdout.Bytes(), stdout.Len() > 0, nil
}

type ffprobeOutput struct {
	Format   ffprobeFormat    `json:"format"`
	Streams  []ffprobeStream  `json:"streams"`
	Chapters []ffprobeChapter `json:"chapters"`
}

type ffprobeFormat struct {
	Tags     map[string]string `json:"tags"`
	Duration string            `json:"duration"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type ffprobeChapter struct {
	Tags      map[string]string `json:"tags"`
	StartTime string            `json:"start_time"`
}
