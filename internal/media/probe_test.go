package media_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vorleser/vorleser-server/internal/media"
)

func requireFFprobe(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}
}

func TestOpenRejectsNonAudio(t *testing.T) {
	requireFFprobe(t)
	ctx := context.Background()
	_, err := media.Open(ctx, filepath.Join("testdata", "silent_video_only.mp4"))
	require.Error(t, err)
}

func TestOpenInvalidUTF8Path(t *testing.T) {
	ctx := context.Background()
	_, err := media.Open(ctx, string([]byte{0xff, 0xfe}))
	require.Error(t, err)
}
