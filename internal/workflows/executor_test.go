package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderd/internal/gateway"
	"renderd/pkg/types"
)

// fakeGateway records requests and fabricates output artifacts.
type fakeGateway struct {
	healthErr error
	failCap   string // capability that should fail
	requests  []gateway.Request
}

func (g *fakeGateway) HealthCheck(context.Context) error { return g.healthErr }

func (g *fakeGateway) RunWithRetry(_ context.Context, req gateway.Request) (*gateway.Result, error) {
	g.requests = append(g.requests, req)
	if req.Capability == g.failCap {
		return nil, fmt.Errorf("capability %s blew up", req.Capability)
	}
	if req.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(req.OutputPath, []byte(req.Capability+"-artifact"), 0o644); err != nil {
			return nil, err
		}
	}
	return &gateway.Result{OutputFileID: "fake", LocalPath: req.OutputPath}, nil
}

func (g *fakeGateway) capabilities() []string {
	out := make([]string, len(g.requests))
	for i, r := range g.requests {
		out[i] = r.Capability
	}
	return out
}

type fakeScheduler struct {
	admitted []string
	err      error
}

func (s *fakeScheduler) Admit(name string) error {
	if s.err != nil {
		return s.err
	}
	s.admitted = append(s.admitted, name)
	return nil
}

type milestone struct {
	progress int
	step     string
}

type recordingReporter struct {
	milestones []milestone
}

func (r *recordingReporter) Report(_ context.Context, progress int, step string) {
	r.milestones = append(r.milestones, milestone{progress, step})
}

func (r *recordingReporter) progresses() []int {
	out := make([]int, len(r.milestones))
	for i, m := range r.milestones {
		out[i] = m.progress
	}
	return out
}

func newTestDeps(t *testing.T, gw *fakeGateway, sched *fakeScheduler) Deps {
	t.Helper()
	return Deps{
		Gateway:    gw,
		Scheduler:  sched,
		Compositor: CopyCompositor{},
		WorkDir:    filepath.Join(t.TempDir(), "work"),
		OutputDir:  filepath.Join(t.TempDir(), "out"),
		Logger:     zerolog.Nop(),
	}
}

func TestTalkingHeadPipeline(t *testing.T) {
	gw := &fakeGateway{}
	sched := &fakeScheduler{}
	exec := NewRegistry(newTestDeps(t, gw, sched))[types.WorkflowTalkingHead]
	rep := &recordingReporter{}

	out, err := exec.Execute(context.Background(), "job-1", types.Params{
		"script":      "Hello world, this is a fifty character script!!",
		"avatar_path": "/assets/avatar.png",
	}, rep)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "talking_head.mp4", filepath.Base(out))

	assert.Equal(t, []string{capTTS, capAnimateFace, capTxt2Img, capTranscribe}, gw.capabilities())
	assert.Equal(t, []string{modelFishSpeech, modelLivePortrait, modelFlux, modelWhisper}, sched.admitted)
	assert.Equal(t, []int{5, 20, 25, 50, 55, 60, 65, 75, 78, 85, 88}, rep.progresses())
}

func TestTalkingHeadCleansScratchDir(t *testing.T) {
	gw := &fakeGateway{}
	deps := newTestDeps(t, gw, &fakeScheduler{})
	exec := NewRegistry(deps)[types.WorkflowTalkingHead]

	_, err := exec.Execute(context.Background(), "job-1", types.Params{
		"script":      "hi",
		"avatar_path": "/a.png",
	}, &recordingReporter{})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(deps.WorkDir, "job-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestTalkingHeadSkipsBackgroundWhenDisabled(t *testing.T) {
	gw := &fakeGateway{}
	sched := &fakeScheduler{}
	exec := NewRegistry(newTestDeps(t, gw, sched))[types.WorkflowTalkingHead]
	rep := &recordingReporter{}

	_, err := exec.Execute(context.Background(), "job-1", types.Params{
		"script":              "hi",
		"avatar_path":         "/assets/avatar.png",
		"generate_background": false,
	}, rep)
	require.NoError(t, err)

	assert.NotContains(t, gw.capabilities(), capTxt2Img)
	assert.NotContains(t, sched.admitted, modelFlux)
	assert.NotContains(t, rep.progresses(), 55)
}

func TestTalkingHeadVoiceEngineSelection(t *testing.T) {
	gw := &fakeGateway{}
	sched := &fakeScheduler{}
	exec := NewRegistry(newTestDeps(t, gw, sched))[types.WorkflowTalkingHead]

	_, err := exec.Execute(context.Background(), "job-1", types.Params{
		"script":       "hi",
		"avatar_path":  "/a.png",
		"voice_engine": "cosy_voice",
	}, &recordingReporter{})
	require.NoError(t, err)

	assert.Equal(t, modelCosyVoice, sched.admitted[0])
	assert.Equal(t, "cosy_voice", gw.requests[0].Params["engine"])
}

func TestHealthGateBlocksExecution(t *testing.T) {
	gw := &fakeGateway{healthErr: errors.New("connection refused")}
	sched := &fakeScheduler{}
	exec := NewRegistry(newTestDeps(t, gw, sched))[types.WorkflowTalkingHead]

	_, err := exec.Execute(context.Background(), "job-1", types.Params{"script": "hi"}, &recordingReporter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpu server unavailable")
	assert.Empty(t, gw.requests)
	assert.Empty(t, sched.admitted)
}

func TestBRollPipeline(t *testing.T) {
	gw := &fakeGateway{}
	sched := &fakeScheduler{}
	exec := NewRegistry(newTestDeps(t, gw, sched))[types.WorkflowBRoll]
	rep := &recordingReporter{}

	out, err := exec.Execute(context.Background(), "job-2", types.Params{
		"scenes": []any{
			map[string]any{"prompt": "mountain sunrise", "duration": 4.0},
			map[string]any{"prompt": "city at night"},
		},
	}, rep)
	require.NoError(t, err)
	assert.Equal(t, "broll.mp4", filepath.Base(out))

	// Two keyframes, two animations, one music pass.
	assert.Equal(t, []string{capTxt2Img, capTxt2Img, capI2V, capI2V, capMusic}, gw.capabilities())
	assert.Equal(t, []string{modelFlux, modelWanI2V, modelMusicGen}, sched.admitted)

	// Style is appended to the keyframe prompt; the default duration
	// fills in for the second scene.
	assert.Equal(t, "mountain sunrise, cinematic, professional", gw.requests[0].Params["prompt"])
	assert.Equal(t, defaultSceneDuration, gw.requests[3].Params["duration"])
	// Music length covers both scenes.
	assert.Equal(t, 4.0+defaultSceneDuration, gw.requests[4].Params["duration"])

	assert.Equal(t, []int{5, 17, 30, 30, 35, 50, 70, 70, 75, 85, 88, 95}, rep.progresses())
}

func TestBRollRequiresScenes(t *testing.T) {
	exec := NewRegistry(newTestDeps(t, &fakeGateway{}, &fakeScheduler{}))[types.WorkflowBRoll]
	_, err := exec.Execute(context.Background(), "job-2", types.Params{}, &recordingReporter{})
	require.Error(t, err)
}

func TestBRollSkipsMusicWhenDisabled(t *testing.T) {
	gw := &fakeGateway{}
	exec := NewRegistry(newTestDeps(t, gw, &fakeScheduler{}))[types.WorkflowBRoll]
	_, err := exec.Execute(context.Background(), "job-2", types.Params{
		"scenes":         []any{map[string]any{"prompt": "x"}},
		"generate_music": false,
	}, &recordingReporter{})
	require.NoError(t, err)
	assert.NotContains(t, gw.capabilities(), capMusic)
}

func TestFullProductionMixedScript(t *testing.T) {
	gw := &fakeGateway{}
	sched := &fakeScheduler{}
	exec := NewRegistry(newTestDeps(t, gw, sched))[types.WorkflowFullProduction]
	rep := &recordingReporter{}

	out, err := exec.Execute(context.Background(), "job-3", types.Params{
		"script":      "[TALKING] Hello.\n[BROLL: ocean waves] Narration.",
		"avatar_path": "/a.png",
	}, rep)
	require.NoError(t, err)
	assert.Equal(t, "full_production.mp4", filepath.Base(out))

	// Talking segment: tts + face. BRoll segment: keyframe + i2v. Music last.
	assert.Equal(t, []string{capTTS, capAnimateFace, capTxt2Img, capI2V, capMusic}, gw.capabilities())

	progresses := rep.progresses()
	assert.Equal(t, 5, progresses[0])
	assert.Contains(t, progresses, 70)
	assert.Contains(t, progresses, 95)
	// Captions come from the script itself, not from transcription.
	assert.NotContains(t, gw.capabilities(), capTranscribe)
}

func TestFullProductionSegmentFailureNamesSegment(t *testing.T) {
	gw := &fakeGateway{failCap: capI2V}
	exec := NewRegistry(newTestDeps(t, gw, &fakeScheduler{}))[types.WorkflowFullProduction]

	_, err := exec.Execute(context.Background(), "job-3", types.Params{
		"script": "[BROLL: a storm]",
	}, &recordingReporter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment 1")
}

func TestSchedulerFailurePropagates(t *testing.T) {
	sched := &fakeScheduler{err: errors.New("budget exceeded")}
	exec := NewRegistry(newTestDeps(t, &fakeGateway{}, sched))[types.WorkflowTalkingHead]

	_, err := exec.Execute(context.Background(), "job-1", types.Params{"script": "hi"}, &recordingReporter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserve vram")
}

func TestWriteScriptSRT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captions.srt")
	require.NoError(t, writeScriptSRT(path, []Segment{
		{Kind: SegmentTalking, Text: "Hello."},
		{Kind: SegmentBRoll, Prompt: "waves", Text: ""},
		{Kind: SegmentTalking, Text: "Bye."},
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "1\n00:00:00,000 --> 00:00:05,000\nHello.")
	// Blocks renumber over skipped empty segments.
	assert.Contains(t, content, "2\n00:00:05,000 --> 00:00:10,000\nBye.")
}
