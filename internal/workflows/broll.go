package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"renderd/internal/gateway"
	"renderd/pkg/types"
)

// Scene is one b-roll shot: a visual prompt and a clip duration.
type Scene struct {
	Prompt   string
	Duration float64
}

const defaultSceneDuration = 5.0

// scenesFromParams decodes the scenes array out of the job params.
// Params round-trip through JSON, so entries arrive as []any of maps.
func scenesFromParams(params types.Params) []Scene {
	raw, ok := params["scenes"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	scenes := make([]Scene, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		scene := Scene{Duration: defaultSceneDuration}
		if p, ok := m["prompt"].(string); ok {
			scene.Prompt = p
		}
		if d, ok := m["duration"].(float64); ok && d > 0 {
			scene.Duration = d
		}
		if scene.Prompt != "" {
			scenes = append(scenes, scene)
		}
	}
	return scenes
}

// broll generates a sequence of short AI clips: one keyframe image per
// scene, each animated into video, stitched together, with optional
// generated music.
type broll struct {
	deps Deps
}

func (b *broll) Execute(ctx context.Context, jobID string, params types.Params, reporter ProgressReporter) (string, error) {
	if err := b.deps.healthGate(ctx); err != nil {
		return "", err
	}
	scenes := scenesFromParams(params)
	if len(scenes) == 0 {
		return "", fmt.Errorf("broll: no scenes in params")
	}
	temp, err := b.deps.scratchDir(jobID)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(temp)

	style := params.String("style", "cinematic, professional")
	generateMusic := params.Bool("generate_music", true)
	musicPrompt := params.String("music_prompt", "Upbeat corporate background music")
	width := int(params.Float("width", 1080))
	height := int(params.Float("height", 1920))

	total := len(scenes)
	reporter.Report(ctx, 5, "Generating key frames")
	if err := b.deps.admit(modelFlux); err != nil {
		return "", err
	}
	for i, scene := range scenes {
		framePath := filepath.Join(temp, fmt.Sprintf("frame_%d.png", i))
		if _, err := b.deps.Gateway.RunWithRetry(ctx, gateway.Request{
			Capability: capTxt2Img,
			Params: map[string]any{
				"prompt": scene.Prompt + ", " + style,
				"width":  width,
				"height": height,
			},
			OutputPath: framePath,
		}); err != nil {
			return "", err
		}
		reporter.Report(ctx, 5+25*(i+1)/total, fmt.Sprintf("Generated frame %d/%d", i+1, total))
	}
	reporter.Report(ctx, 30, "Key frames complete")

	reporter.Report(ctx, 35, "Animating scenes")
	if err := b.deps.admit(modelWanI2V); err != nil {
		return "", err
	}
	clips := make([]string, 0, total)
	for i, scene := range scenes {
		clipPath := filepath.Join(temp, fmt.Sprintf("clip_%d.mp4", i))
		if _, err := b.deps.Gateway.RunWithRetry(ctx, gateway.Request{
			Capability: capI2V,
			Params:     map[string]any{"prompt": scene.Prompt, "duration": scene.Duration},
			InputFiles: map[string]string{"image": filepath.Join(temp, fmt.Sprintf("frame_%d.png", i))},
			OutputPath: clipPath,
		}); err != nil {
			return "", err
		}
		clips = append(clips, clipPath)
		reporter.Report(ctx, 30+40*(i+1)/total, fmt.Sprintf("Animated scene %d/%d", i+1, total))
	}
	reporter.Report(ctx, 70, "Scenes animated")

	reporter.Report(ctx, 75, "Stitching clips")
	stitchedPath := filepath.Join(temp, "stitched.mp4")
	if err := b.deps.Compositor.Stitch(ctx, clips, stitchedPath); err != nil {
		return "", err
	}
	reporter.Report(ctx, 85, "Clips stitched")

	finalPath := stitchedPath
	if generateMusic {
		reporter.Report(ctx, 88, "Generating music")
		if err := b.deps.admit(modelMusicGen); err != nil {
			return "", err
		}
		var totalDuration float64
		for _, scene := range scenes {
			totalDuration += scene.Duration
		}
		musicPath := filepath.Join(temp, "music.wav")
		if _, err := b.deps.Gateway.RunWithRetry(ctx, gateway.Request{
			Capability: capMusic,
			Params:     map[string]any{"prompt": musicPrompt, "duration": totalDuration},
			OutputPath: musicPath,
		}); err != nil {
			return "", err
		}
		withMusic := filepath.Join(temp, "final.mp4")
		if err := b.deps.Compositor.AddAudio(ctx, stitchedPath, musicPath, withMusic); err != nil {
			return "", err
		}
		finalPath = withMusic
		reporter.Report(ctx, 95, "Music added")
	}

	out, err := b.deps.saveOutput(jobID, finalPath, "broll.mp4")
	if err != nil {
		return "", err
	}
	b.deps.Logger.Info().Str("job_id", jobID).Int("scenes", total).Str("output", out).Msg("b-roll complete")
	return out, nil
}
