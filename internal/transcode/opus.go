// Package transcode implements the OpusTranscoder: a forward-only,
// read-only byte stream re-encoding a source file to a single Opus logical
// stream wrapped in Ogg. Grounded as an exec'd ffmpeg subprocess piping its
// own Ogg/Opus output (the only "native media framework" binding pattern this
// corpus demonstrates), with a page-cursor reader on top honoring the header
// page / body page Read contract.
package transcode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
)

const (
	oggCaptureSize  = 27 // capture pattern + version + type + granule + serial + seq + crc + segment count
	sampleRate      = 48000
	frameSizeMillis = 20
)

// Opus presents the Opus/Ogg re-encode of a source file as an io.Reader with
// its own header/body page cursor. It has no seek: every instance encodes
// from the start of the source, and Open takes no starting offset.
type Opus struct {
	cmd *exec.Cmd
	src io.ReadCloser
	br  *bufio.Reader

	mu       sync.Mutex
	cur      pageCursor
	eof      bool
	waitErr  chan error // resolved once the process exits, carries stderr on failure
	procErr  error      // cached result of waitErr, read at most once
	procRead bool
}

// pageCursor tracks per-page progress: wrote_page_header and wrote_page_body
// cursors that survive across Read calls so a page can be delivered across
// multiple, arbitrarily small caller buffers.
type pageCursor struct {
	header    []byte
	body      []byte
	headerOff int
	bodyOff   int
}

func (c pageCursor) drained() bool {
	return c.headerOff >= len(c.header) && c.bodyOff >= len(c.body)
}

// Options configures the narrowband single-profile transcode.
type Options struct {
	FFmpegPath string // defaults to "ffmpeg" on PATH
}

// Open starts the ffmpeg pipeline for path and returns an Opus reader over
// its stdout. Any missing pipeline element (here: a missing ffmpeg binary)
// surfaces as a MediaError carrying the binary name.
func Open(ctx context.Context, path string, opts Options) (*Opus, error) {
	bin := opts.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, vorlerrors.MediaError(bin, "pipeline element not found")
	}

	args := []string{
		"-v", "error",
		"-i", path,
		"-map", "0:a:0",
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(8000),
		"-c:a", "libopus",
		"-application", "voip", // narrowband-oriented encoder mode
		"-fflags", "+bitexact", // fixed Ogg serial number: identical input gives identical bytes
		"-f", "ogg",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, vorlerrors.Io("opening transcoder stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, vorlerrors.Io("opening transcoder stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, vorlerrors.MediaError(bin, err.Error())
	}

	waitErr := make(chan error, 1)
	// Must drain stderr in a goroutine or a chatty ffmpeg can deadlock the pipe.
	go func() {
		buf, _ := io.ReadAll(stderr)
		if err := cmd.Wait(); err != nil {
			waitErr <- vorlerrors.MediaError(bin, strings.TrimSpace(string(buf)))
			return
		}
		waitErr <- nil
	}()

	return &Opus{
		cmd:     cmd,
		src:     stdout,
		br:      bufio.NewReaderSize(stdout, 64*1024),
		waitErr: waitErr,
	}, nil
}

// Read returns bytes from the logical concatenation of the header page
// (built once, the first page of the Ogg stream, since Ogg mandates the
// Opus ID header packet opens its logical stream) followed by body pages.
// It returns 0 only at true end of stream.
func (o *Opus) Read(buf []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	total := 0
	for total < len(buf) {
		if o.cur.drained() {
			if o.eof {
				if total > 0 {
					return total, nil
				}
				return 0, io.EOF
			}
			page, err := readPage(o.br)
			if err == io.EOF {
				o.eof = true
				if !o.procRead {
					o.procErr = <-o.waitErr
					o.procRead = true
				}
				if o.procErr != nil {
					return total, o.procErr
				}
				if total > 0 {
					return total, nil
				}
				return 0, io.EOF
			}
			if err != nil {
				return total, vorlerrors.NoStreamHeader(err.Error())
			}
			o.cur = pageCursor{header: page.header, body: page.body}
		}

		if o.cur.headerOff < len(o.cur.header) {
			n := copy(buf[total:], o.cur.header[o.cur.headerOff:])
			o.cur.headerOff += n
			total += n
			continue
		}
		if o.cur.bodyOff < len(o.cur.body) {
			n := copy(buf[total:], o.cur.body[o.cur.bodyOff:])
			o.cur.bodyOff += n
			total += n
			continue
		}
	}
	return total, nil
}

// Close terminates the underlying ffmpeg process and releases its pipe.
func (o *Opus) Close() error {
	if o.cmd.Process != nil {
		_ = o.cmd.Process.Kill()
	}
	return o.src.Close()
}

// Granulepos computes the granule position for the packetNum'th encoded
// packet, per the fixed 20ms/48kHz frame parameters.
func Granulepos(packetNum int64) int64 {
	return packetNum * (sampleRate / (1000 / frameSizeMillis))
}

type oggPage struct {
	header []byte
	body   []byte
}

// readPage reads one full Ogg page (27-byte fixed header, segment table,
// then the segment-table-determined body) from r.
func readPage(r *bufio.Reader) (oggPage, error) {
	fixed := make([]byte, oggCaptureSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		if err == io.ErrUnexpectedEOF {
			return oggPage{}, io.EOF
		}
		return oggPage{}, err
	}
	if string(fixed[0:4]) != "OggS" {
		return oggPage{}, fmt.Errorf("bad ogg capture pattern %q", fixed[0:4])
	}

	segCount := int(fixed[26])
	segTable := make([]byte, segCount)
	if _, err := io.ReadFull(r, segTable); err != nil {
		return oggPage{}, err
	}

	bodyLen := 0
	for _, s := range segTable {
		bodyLen += int(s)
	}
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return oggPage{}, err
		}
	}

	header := make([]byte, 0, oggCaptureSize+segCount)
	header = append(header, fixed...)
	header = append(header, segTable...)
	return oggPage{header: header, body: body}, nil
}
