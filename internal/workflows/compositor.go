package workflows

import (
	"context"
	"fmt"

	"renderd/internal/common/fsutil"
)

// Compositor assembles media files. Real deployments back this with an
// ffmpeg pipeline; the copy implementation below keeps development and
// tests free of media tooling.
type Compositor interface {
	// Composite overlays the face video on a background. background may
	// be empty, in which case the face video passes through.
	Composite(ctx context.Context, faceVideo, background, dst string) error
	// Stitch concatenates clips in order.
	Stitch(ctx context.Context, clips []string, dst string) error
	// AddAudio muxes an audio track onto a video.
	AddAudio(ctx context.Context, video, audio, dst string) error
	// BurnCaptions renders an SRT file into the video.
	BurnCaptions(ctx context.Context, video, srt, dst string) error
}

// CopyCompositor is the development Compositor: every operation passes
// the primary video input through unchanged.
type CopyCompositor struct{}

func (CopyCompositor) Composite(_ context.Context, faceVideo, _, dst string) error {
	return fsutil.CopyFile(faceVideo, dst)
}

func (CopyCompositor) Stitch(_ context.Context, clips []string, dst string) error {
	if len(clips) == 0 {
		return fmt.Errorf("stitch: no clips")
	}
	return fsutil.CopyFile(clips[0], dst)
}

func (CopyCompositor) AddAudio(_ context.Context, video, _, dst string) error {
	return fsutil.CopyFile(video, dst)
}

func (CopyCompositor) BurnCaptions(_ context.Context, video, _, dst string) error {
	return fsutil.CopyFile(video, dst)
}
