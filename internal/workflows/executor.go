// Package workflows holds the generation pipelines. Each workflow is a
// fixed sequence of model invocations against the GPU gateway, reporting
// coarse progress milestones as it goes. Executors are stateless; all
// job bookkeeping belongs to the runner and the job store.
package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"renderd/internal/common/fsutil"
	"renderd/internal/gateway"
	"renderd/pkg/types"
)

// Model registry names used by the pipelines.
const (
	modelFishSpeech   = "fish_speech"
	modelCosyVoice    = "cosy_voice"
	modelLivePortrait = "live_portrait"
	modelFlux         = "flux"
	modelWanI2V       = "wan_i2v"
	modelMusicGen     = "music_gen"
	modelWhisper      = "whisper"
)

// GPU server capabilities, one per /infer/<capability> pipeline.
const (
	capTTS         = "tts"
	capAnimateFace = "animate_face"
	capTxt2Img     = "txt2img"
	capI2V         = "i2v"
	capMusic       = "music"
	capTranscribe  = "transcribe"
)

// Gateway is the inference surface executors consume.
type Gateway interface {
	RunWithRetry(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	HealthCheck(ctx context.Context) error
}

// Scheduler reserves VRAM for a model before its capability runs.
type Scheduler interface {
	Admit(name string) error
}

// ProgressReporter receives milestone updates. Implementations must
// tolerate being called after the job turned terminal.
type ProgressReporter interface {
	Report(ctx context.Context, progress int, step string)
}

// Executor runs one workflow kind to completion and returns the path of
// the saved output artifact.
type Executor interface {
	Execute(ctx context.Context, jobID string, params types.Params, reporter ProgressReporter) (string, error)
}

// Deps are the shared collaborators injected into every executor.
type Deps struct {
	Gateway    Gateway
	Scheduler  Scheduler
	Compositor Compositor
	// WorkDir hosts per-job scratch directories, removed after the run.
	WorkDir string
	// OutputDir hosts the saved artifacts, one directory per job.
	OutputDir string
	Logger    zerolog.Logger
}

// NewRegistry builds the workflow kind to executor table.
func NewRegistry(deps Deps) map[types.Workflow]Executor {
	return map[types.Workflow]Executor{
		types.WorkflowTalkingHead:    &talkingHead{deps: deps},
		types.WorkflowBRoll:          &broll{deps: deps},
		types.WorkflowFullProduction: &fullProduction{deps: deps},
	}
}

// admit reserves a model's VRAM, translating scheduler failures into a
// workflow error that names the model.
func (d Deps) admit(name string) error {
	if err := d.Scheduler.Admit(name); err != nil {
		return fmt.Errorf("reserve vram for %s: %w", name, err)
	}
	return nil
}

// scratchDir creates the per-job temp directory.
func (d Deps) scratchDir(jobID string) (string, error) {
	dir := filepath.Join(d.WorkDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// saveOutput moves the finished artifact into the output tree and
// returns its final path.
func (d Deps) saveOutput(jobID, src, name string) (string, error) {
	dst := filepath.Join(d.OutputDir, jobID, name)
	if err := fsutil.CopyFile(src, dst); err != nil {
		return "", fmt.Errorf("save output: %w", err)
	}
	return dst, nil
}

// healthGate fails fast before any VRAM or queue slot is consumed.
func (d Deps) healthGate(ctx context.Context) error {
	if err := d.Gateway.HealthCheck(ctx); err != nil {
		return fmt.Errorf("gpu server unavailable: %w", err)
	}
	return nil
}
