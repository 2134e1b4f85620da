package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"renderd/internal/gateway"
	"renderd/pkg/types"
)

// fullProduction runs a marked-up script through both pipelines: talking
// segments get TTS plus face animation, broll segments get a keyframe
// animated into video, then everything is stitched, captioned and
// optionally scored.
type fullProduction struct {
	deps Deps
}

func (f *fullProduction) Execute(ctx context.Context, jobID string, params types.Params, reporter ProgressReporter) (string, error) {
	if err := f.deps.healthGate(ctx); err != nil {
		return "", err
	}
	temp, err := f.deps.scratchDir(jobID)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(temp)

	script := params.String("script", "")
	avatarPath := params.String("avatar_path", "")
	voiceEngine := params.String("voice_engine", modelFishSpeech)
	voiceReference := params.String("voice_reference", "")
	language := params.String("language", "en")
	generateMusic := params.Bool("generate_music", true)
	musicPrompt := params.String("music_prompt", "Professional background music")

	reporter.Report(ctx, 5, "Parsing script")
	segments := ParseScript(script)
	f.deps.Logger.Info().Str("job_id", jobID).Int("segments", len(segments)).Msg("script parsed")

	total := len(segments)
	clips := make([]string, 0, total)
	for i, segment := range segments {
		segTemp := filepath.Join(temp, fmt.Sprintf("segment_%d", i))
		if err := os.MkdirAll(segTemp, 0o755); err != nil {
			return "", err
		}
		base := 5 + 65*i/total

		switch segment.Kind {
		case SegmentTalking:
			reporter.Report(ctx, base, fmt.Sprintf("Processing talking segment %d", i+1))
			clip, err := f.talkingClip(ctx, segTemp, segment.Text,
				avatarPath, voiceEngine, voiceReference, language)
			if err != nil {
				return "", fmt.Errorf("segment %d: %w", i+1, err)
			}
			clips = append(clips, clip)
		case SegmentBRoll:
			reporter.Report(ctx, base, fmt.Sprintf("Processing b-roll segment %d", i+1))
			clip, err := f.brollClip(ctx, segTemp, segment.Prompt)
			if err != nil {
				return "", fmt.Errorf("segment %d: %w", i+1, err)
			}
			clips = append(clips, clip)
		}
	}
	reporter.Report(ctx, 70, "All segments processed")

	reporter.Report(ctx, 75, "Stitching segments")
	stitchedPath := filepath.Join(temp, "stitched.mp4")
	if err := f.deps.Compositor.Stitch(ctx, clips, stitchedPath); err != nil {
		return "", err
	}
	reporter.Report(ctx, 80, "Segments stitched")

	reporter.Report(ctx, 82, "Generating captions")
	srtPath := filepath.Join(temp, "captions.srt")
	if err := writeScriptSRT(srtPath, segments); err != nil {
		return "", err
	}
	reporter.Report(ctx, 85, "Captions generated")

	finalPath := stitchedPath
	if generateMusic {
		reporter.Report(ctx, 87, "Generating music")
		if err := f.deps.admit(modelMusicGen); err != nil {
			return "", err
		}
		musicPath := filepath.Join(temp, "music.wav")
		if _, err := f.deps.Gateway.RunWithRetry(ctx, gateway.Request{
			Capability: capMusic,
			Params:     map[string]any{"prompt": musicPrompt, "duration": float64(total) * defaultSceneDuration},
			OutputPath: musicPath,
		}); err != nil {
			return "", err
		}
		withMusic := filepath.Join(temp, "with_music.mp4")
		if err := f.deps.Compositor.AddAudio(ctx, stitchedPath, musicPath, withMusic); err != nil {
			return "", err
		}
		finalPath = withMusic
		reporter.Report(ctx, 90, "Music added")
	}

	reporter.Report(ctx, 95, "Finalizing")
	out, err := f.deps.saveOutput(jobID, finalPath, "full_production.mp4")
	if err != nil {
		return "", err
	}
	f.deps.Logger.Info().Str("job_id", jobID).Str("output", out).Msg("full production complete")
	return out, nil
}

func (f *fullProduction) talkingClip(ctx context.Context, dir, text, avatarPath, voiceEngine, voiceReference, language string) (string, error) {
	ttsModel := modelFishSpeech
	if voiceEngine == modelCosyVoice {
		ttsModel = modelCosyVoice
	}
	if err := f.deps.admit(ttsModel); err != nil {
		return "", err
	}
	audioPath := filepath.Join(dir, "speech.wav")
	ttsFiles := map[string]string{}
	if voiceReference != "" {
		ttsFiles["voice_reference"] = voiceReference
	}
	if _, err := f.deps.Gateway.RunWithRetry(ctx, gateway.Request{
		Capability: capTTS,
		Params:     map[string]any{"text": text, "language": language, "engine": ttsModel},
		InputFiles: ttsFiles,
		OutputPath: audioPath,
	}); err != nil {
		return "", err
	}

	if err := f.deps.admit(modelLivePortrait); err != nil {
		return "", err
	}
	clipPath := filepath.Join(dir, "talking.mp4")
	if _, err := f.deps.Gateway.RunWithRetry(ctx, gateway.Request{
		Capability: capAnimateFace,
		InputFiles: map[string]string{"avatar": avatarPath, "audio": audioPath},
		OutputPath: clipPath,
	}); err != nil {
		return "", err
	}
	return clipPath, nil
}

func (f *fullProduction) brollClip(ctx context.Context, dir, prompt string) (string, error) {
	if err := f.deps.admit(modelFlux); err != nil {
		return "", err
	}
	framePath := filepath.Join(dir, "frame.png")
	if _, err := f.deps.Gateway.RunWithRetry(ctx, gateway.Request{
		Capability: capTxt2Img,
		Params:     map[string]any{"prompt": prompt, "width": 1080, "height": 1920},
		OutputPath: framePath,
	}); err != nil {
		return "", err
	}

	if err := f.deps.admit(modelWanI2V); err != nil {
		return "", err
	}
	clipPath := filepath.Join(dir, "broll.mp4")
	if _, err := f.deps.Gateway.RunWithRetry(ctx, gateway.Request{
		Capability: capI2V,
		Params:     map[string]any{"prompt": prompt, "duration": defaultSceneDuration},
		InputFiles: map[string]string{"image": framePath},
		OutputPath: clipPath,
	}); err != nil {
		return "", err
	}
	return clipPath, nil
}

// writeScriptSRT emits one subtitle block per segment with narration
// text, spaced defaultSceneDuration seconds apart. The GPU transcription
// path is not used here: the script itself is the ground truth.
func writeScriptSRT(path string, segments []Segment) error {
	var b strings.Builder
	idx := 0
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		start := float64(idx) * defaultSceneDuration
		end := start + defaultSceneDuration
		idx++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", idx, srtTimestamp(start), srtTimestamp(end), text)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func srtTimestamp(seconds float64) string {
	ms := int(seconds * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
