package workflows

import (
	"context"
	"os"
	"path/filepath"

	"renderd/internal/gateway"
	"renderd/pkg/types"
)

// talkingHead turns a script plus an avatar photo into a captioned
// presenter video: TTS, face animation, optional generated background,
// composite, captions, final encode.
type talkingHead struct {
	deps Deps
}

func (t *talkingHead) Execute(ctx context.Context, jobID string, params types.Params, reporter ProgressReporter) (string, error) {
	if err := t.deps.healthGate(ctx); err != nil {
		return "", err
	}
	temp, err := t.deps.scratchDir(jobID)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(temp)

	script := params.String("script", "")
	avatarPath := params.String("avatar_path", "")
	voiceEngine := params.String("voice_engine", modelFishSpeech)
	voiceReference := params.String("voice_reference", "")
	language := params.String("language", "en")
	generateBackground := params.Bool("generate_background", true)
	backgroundPrompt := params.String("background_prompt",
		"Professional studio background, soft lighting")

	reporter.Report(ctx, 5, "Generating speech audio")
	audioPath := filepath.Join(temp, "speech.wav")
	ttsModel := modelFishSpeech
	if voiceEngine == modelCosyVoice {
		ttsModel = modelCosyVoice
	}
	if err := t.deps.admit(ttsModel); err != nil {
		return "", err
	}
	ttsFiles := map[string]string{}
	if voiceReference != "" {
		ttsFiles["voice_reference"] = voiceReference
	}
	if _, err := t.deps.Gateway.RunWithRetry(ctx, gateway.Request{
		Capability: capTTS,
		Params:     map[string]any{"text": script, "language": language, "engine": ttsModel},
		InputFiles: ttsFiles,
		OutputPath: audioPath,
	}); err != nil {
		return "", err
	}
	reporter.Report(ctx, 20, "Speech audio generated")

	reporter.Report(ctx, 25, "Animating avatar")
	facePath := filepath.Join(temp, "face.mp4")
	if err := t.deps.admit(modelLivePortrait); err != nil {
		return "", err
	}
	if _, err := t.deps.Gateway.RunWithRetry(ctx, gateway.Request{
		Capability: capAnimateFace,
		InputFiles: map[string]string{"avatar": avatarPath, "audio": audioPath},
		OutputPath: facePath,
	}); err != nil {
		return "", err
	}
	reporter.Report(ctx, 50, "Avatar animated")

	bgPath := ""
	if generateBackground {
		reporter.Report(ctx, 55, "Generating background")
		bgPath = filepath.Join(temp, "background.png")
		if err := t.deps.admit(modelFlux); err != nil {
			return "", err
		}
		if _, err := t.deps.Gateway.RunWithRetry(ctx, gateway.Request{
			Capability: capTxt2Img,
			Params:     map[string]any{"prompt": backgroundPrompt, "width": 1080, "height": 1920},
			OutputPath: bgPath,
		}); err != nil {
			return "", err
		}
		reporter.Report(ctx, 60, "Background generated")
	}

	reporter.Report(ctx, 65, "Compositing video")
	compositePath := filepath.Join(temp, "composite.mp4")
	if err := t.deps.Compositor.Composite(ctx, facePath, bgPath, compositePath); err != nil {
		return "", err
	}
	reporter.Report(ctx, 75, "Video composited")

	reporter.Report(ctx, 78, "Generating captions")
	srtPath := filepath.Join(temp, "captions.srt")
	if err := t.deps.admit(modelWhisper); err != nil {
		return "", err
	}
	if _, err := t.deps.Gateway.RunWithRetry(ctx, gateway.Request{
		Capability: capTranscribe,
		Params:     map[string]any{"language": language},
		InputFiles: map[string]string{"audio": audioPath},
		OutputPath: srtPath,
	}); err != nil {
		return "", err
	}
	reporter.Report(ctx, 85, "Captions generated")

	reporter.Report(ctx, 88, "Encoding final video")
	finalPath := filepath.Join(temp, "final.mp4")
	if err := t.deps.Compositor.BurnCaptions(ctx, compositePath, srtPath, finalPath); err != nil {
		return "", err
	}

	out, err := t.deps.saveOutput(jobID, finalPath, "talking_head.mp4")
	if err != nil {
		return "", err
	}
	t.deps.Logger.Info().Str("job_id", jobID).Str("output", out).Msg("talking head complete")
	return out, nil
}
