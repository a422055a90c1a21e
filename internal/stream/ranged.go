// Package stream implements the RangedResponder: HTTP byte-range delivery of
// a local seekable artifact, honoring Range: bytes=... against the table in
// the core's streaming design rather than delegating to the standard
// library's own (more permissive) range handling.
package stream

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
)

// Responder streams a single local file, honoring Range requests.
type Responder struct {
	// ContentType overrides the extension-derived Content-Type when non-empty.
	// The /data route in internal/api constructs its Responder with "" here.
	ContentType string
	logger      *slog.Logger
}

// New constructs a Responder. An empty contentType falls back to extension
// lookup at serve time.
func New(contentType string, logger *slog.Logger) *Responder {
	return &Responder{ContentType: contentType, logger: logger}
}

// ServeFile streams path to w, honoring req's Range header per the table:
// absent range streams the whole file (200); bytes=from-to, bytes=from-, and
// bytes=-N each stream a partial body (206); any other Range value fails
// with InvalidInput rather than being reinterpreted.
func (r *Responder) ServeFile(w http.ResponseWriter, req *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return vorlerrors.Io("opening artifact for streaming", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return vorlerrors.Io("stat artifact for streaming", err)
	}
	size := info.Size()

	contentType := r.ContentType
	if contentType == "" {
		contentType = contentTypeFor(path)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	header := req.Header.Get("Range")
	if header == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, err := io.Copy(w, f)
		if err != nil {
			r.logWriteError(path, err)
		}
		return nil
	}

	spec, err := parseRange(header, size)
	if err != nil {
		return err
	}

	if _, err := f.Seek(spec.start, io.SeekStart); err != nil {
		return vorlerrors.Io("seeking artifact for range response", err)
	}

	w.Header().Set("Content-Range", spec.contentRange(size))
	w.Header().Set("Content-Length", strconv.FormatInt(spec.length, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := io.CopyN(w, f, spec.length); err != nil && !errors.Is(err, io.EOF) {
		r.logWriteError(path, err)
	}
	return nil
}

func (r *Responder) logWriteError(path string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("client disconnected mid-stream", "path", path, "error", err)
}

// byteRange is a resolved, in-bounds [start, start+length) window.
type byteRange struct {
	start  int64
	length int64
}

func (b byteRange) contentRange(size int64) string {
	return "bytes " + strconv.FormatInt(b.start, 10) + "-" +
		strconv.FormatInt(b.start+b.length-1, 10) + "/" + strconv.FormatInt(size, 10)
}

// parseRange parses a single "bytes=..." Range header value against a file
// of the given size. Multi-range requests and any unit other than "bytes"
// are rejected as InvalidInput: the core does not implement multipart
// byteranges.
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, vorlerrors.InvalidInputf("range unit not implemented: %s", header)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, vorlerrors.InvalidInputf("multi-range requests not implemented: %s", header)
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return byteRange{}, vorlerrors.InvalidInputf("malformed range: %s", header)
	}
	fromStr, toStr := spec[:dash], spec[dash+1:]

	switch {
	case fromStr == "" && toStr != "":
		// bytes=-N: last N bytes.
		n, err := strconv.ParseInt(toStr, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, vorlerrors.InvalidInputf("malformed suffix range: %s", header)
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, length: n}, nil

	case fromStr != "" && toStr == "":
		// bytes=from-: from to EOF.
		from, err := strconv.ParseInt(fromStr, 10, 64)
		if err != nil || from < 0 || from >= size {
			return byteRange{}, vorlerrors.InvalidInputf("malformed range: %s", header)
		}
		return byteRange{start: from, length: size - from}, nil

	case fromStr != "" && toStr != "":
		// bytes=from-to: inclusive.
		from, errFrom := strconv.ParseInt(fromStr, 10, 64)
		to, errTo := strconv.ParseInt(toStr, 10, 64)
		if errFrom != nil || errTo != nil || from < 0 || to < from {
			return byteRange{}, vorlerrors.InvalidInputf("malformed range: %s", header)
		}
		if to >= size {
			to = size - 1
		}
		return byteRange{start: from, length: to - from + 1}, nil

	default:
		return byteRange{}, vorlerrors.InvalidInputf("malformed range: %s", header)
	}
}

// contentTypeFor maps a file extension to an audio MIME type, falling back
// to application/octet-stream for anything unrecognized.
func contentTypeFor(path string) string {
	ext := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i+1:]
	}
	switch strings.ToLower(ext) {
	case "mp3":
		return "audio/mpeg"
	case "m4a", "m4b", "mp4":
		return "audio/mp4"
	case "ogg", "oga", "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
