package job

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrStageTransition = errors.New("invalid stage transition")
	ErrJobTransition   = errors.New("invalid job transition")

	errNoResult = errors.New("pipeline returned no result")
)

// StageUpdate is a partial StageState; nil fields are left untouched.
type StageUpdate struct {
	Status   *StageStatus
	Progress *string
	Detail   *string

	// Force allows a finished optional stage to be downgraded to error.
	Force bool
}

// Set starts an update that changes the stage status.
func Set(status StageStatus) StageUpdate {
	return StageUpdate{Status: &status}
}

// Force starts an update that may overwrite a finished optional stage.
func Force(status StageStatus) StageUpdate {
	return StageUpdate{Status: &status, Force: true}
}

// Note starts an update that only changes the detail line.
func Note(detail string) StageUpdate {
	return StageUpdate{Detail: &detail}
}

func (u StageUpdate) WithDetail(detail string) StageUpdate {
	u.Detail = &detail
	return u
}

func (u StageUpdate) WithProgress(progress string) StageUpdate {
	u.Progress = &progress
	return u
}

func stageRank(s StageStatus) int {
	switch s {
	case StagePending:
		return 0
	case StageRunning:
		return 1
	default:
		return 2
	}
}

// forcible stages belong to the optional subtitle branch.
func forcible(stage Stage) bool {
	return stage == StageConversion || stage == StageTranscription
}

// apply merges u into cur, enforcing pending -> running -> terminal.
func apply(stage Stage, cur StageState, u StageUpdate) (StageState, error) {
	if cur.Status.Terminal() {
		if u.Force && forcible(stage) && u.Status != nil && *u.Status == StageError && cur.Status == StageDone {
			cur.Status = StageError
			if u.Detail != nil {
				cur.Detail = *u.Detail
			}
			return cur, nil
		}
		return cur, fmt.Errorf("%w: %s is already %s", ErrStageTransition, stage, cur.Status)
	}

	if u.Status != nil {
		next := *u.Status
		if stageRank(next) < stageRank(cur.Status) {
			return cur, fmt.Errorf("%w: %s cannot move from %s to %s", ErrStageTransition, stage, cur.Status, next)
		}
		cur.Status = next
	}
	if u.Progress != nil {
		cur.Progress = *u.Progress
	}
	if u.Detail != nil {
		cur.Detail = *u.Detail
	}
	return cur, nil
}
