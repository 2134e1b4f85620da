package types

// TalkingHeadRequest creates a talking head video generation job.
type TalkingHeadRequest struct {
	// Required script text to be spoken.
	Script string `json:"script"`
	// Local path to the avatar photo; empty produces a placeholder clip.
	AvatarPath string `json:"avatar_path,omitempty"`
	// TTS engine: fish_speech (default) or cosy_voice.
	VoiceEngine string `json:"voice_engine,omitempty"`
	// Optional voice-clone reference audio path.
	VoiceReference string `json:"voice_reference,omitempty"`
	// Language code, default en.
	Language string `json:"language,omitempty"`
	// Generate an AI background behind the avatar. Defaults to true.
	GenerateBackground *bool `json:"generate_background,omitempty"`
	// Prompt used when generating the background.
	BackgroundPrompt string `json:"background_prompt,omitempty"`
}

// BRollScene is one scene of a b-roll request.
type BRollScene struct {
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration,omitempty"`
}

// BRollRequest creates a b-roll video generation job.
type BRollRequest struct {
	Scenes        []BRollScene `json:"scenes"`
	Style         string       `json:"style,omitempty"`
	GenerateMusic *bool        `json:"generate_music,omitempty"`
	MusicPrompt   string       `json:"music_prompt,omitempty"`
	Width         int          `json:"width,omitempty"`
	Height        int          `json:"height,omitempty"`
}

// FullProductionRequest creates a full production job from a marked-up script.
type FullProductionRequest struct {
	// Script with [TALKING] and [BROLL: ...] segment markers.
	Script           string `json:"script"`
	AvatarPath       string `json:"avatar_path,omitempty"`
	VoiceEngine      string `json:"voice_engine,omitempty"`
	VoiceReference   string `json:"voice_reference,omitempty"`
	Language         string `json:"language,omitempty"`
	GenerateMusic    *bool  `json:"generate_music,omitempty"`
	MusicPrompt      string `json:"music_prompt,omitempty"`
	BackgroundPrompt string `json:"background_prompt,omitempty"`
}

// EnqueueResponse acknowledges a newly created job.
type EnqueueResponse struct {
	JobID    string   `json:"job_id"`
	Workflow Workflow `json:"workflow"`
	Status   JobStatus `json:"status"`
}

// JobListResponse wraps GET /api/v1/jobs.
type JobListResponse struct {
	Jobs  []Job `json:"jobs"`
	Count int   `json:"count"`
}

// ModelsResponse wraps GET /api/v1/models.
type ModelsResponse struct {
	Models []ModelSpec `json:"models"`
	GPU    GPUStatus   `json:"gpu"`
}

// ErrorResponse is the consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: job not found
	Error string `json:"error"`
	// HTTP status code.
	// example: 404
	Code int `json:"code"`
}
