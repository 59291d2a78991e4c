package job

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

type Stage string

const (
	StageAudioDownload Stage = "audio_dl"
	StageVideoDownload Stage = "video_dl"
	StageConversion    Stage = "conversion"
	StageTranscription Stage = "transcription"
	StageFinalization  Stage = "finalization"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageAudioDownload,
	StageVideoDownload,
	StageConversion,
	StageTranscription,
	StageFinalization,
}

type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageDone    StageStatus = "done"
	StageError   StageStatus = "error"
	StageSkipped StageStatus = "skipped"
)

func (s StageStatus) Terminal() bool {
	return s == StageDone || s == StageError || s == StageSkipped
}

type StageState struct {
	Status   StageStatus `json:"status"`
	Progress string      `json:"progress,omitempty"`
	Detail   string      `json:"detail"`
}

// Tasks maps every stage to its state and always encodes in pipeline order.
type Tasks map[Stage]StageState

func (t Tasks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, stage := range Stages {
		state, ok := t[stage]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := json.Marshal(string(stage))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(state)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Result struct {
	Filename    string `json:"filename"`
	SrtFilename string `json:"srt_filename,omitempty"`
	Title       string `json:"title"`
	Size        string `json:"size"`
}

// Options are the caller's choices for one job.
type Options struct {
	URL           string `json:"url"`
	VideoQuality  string `json:"video_quality"`
	AudioQuality  string `json:"audio_quality"`
	APIKey        string `json:"-"`
	GenerateSubs  bool   `json:"gen_subtitles"`
	TranslateSubs bool   `json:"translate_subs"`
}

// NoVideo is the video selector meaning "audio only".
const NoVideo = "none"

// WantsVideo reports whether a video stream was requested.
func (o Options) WantsVideo() bool {
	return o.VideoQuality != "" && o.VideoQuality != NoVideo
}

// WantsSubtitles reports whether subtitles can be produced for this job.
func (o Options) WantsSubtitles() bool {
	return o.GenerateSubs && o.APIKey != ""
}

type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Tasks       Tasks      `json:"tasks"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func newJob(id string, now time.Time) Job {
	tasks := make(Tasks, len(Stages))
	for _, stage := range Stages {
		tasks[stage] = StageState{Status: StagePending, Detail: "Waiting..."}
	}
	tasks[StageAudioDownload] = StageState{Status: StagePending, Progress: "0", Detail: "Waiting..."}
	tasks[StageVideoDownload] = StageState{Status: StagePending, Progress: "0", Detail: "Waiting..."}
	return Job{
		ID:        id,
		Status:    StatusQueued,
		Tasks:     tasks,
		CreatedAt: now,
	}
}

// clone returns a deep copy safe to hand to other goroutines.
func (j Job) clone() Job {
	out := j
	out.Tasks = make(Tasks, len(j.Tasks))
	for k, v := range j.Tasks {
		out.Tasks[k] = v
	}
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
