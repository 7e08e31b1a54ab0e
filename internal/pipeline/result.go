package pipeline

import (
	"errors"
	"time"
)

type Stage string

const (
	StageAcquire     Stage = "acquire"
	StageAssemble    Stage = "assemble"
	StageLabel       Stage = "label"
	StagePostProcess Stage = "post-process"
	StageCollect     Stage = "collect"
)

var Stages = []Stage{StageAcquire, StageAssemble, StageLabel, StagePostProcess, StageCollect}

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

var ErrStageFailed = errors.New("stage failed")

type StageResult struct {
	Stage    Stage
	Status   Status
	Err      error
	Duration time.Duration
}

type Result struct {
	Sample     string
	Threads    int
	Mismatched bool
	Stages     []StageResult
	// Err is the first stage failure, or an unexpected error raised outside
	// the stages (e.g. a worker panic).
	Err error
}

func (r *Result) Failed() bool {
	return r.Err != nil
}

func (r *Result) Stage(s Stage) (StageResult, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == s {
			return sr, true
		}
	}
	return StageResult{}, false
}

func (r *Result) Status() Status {
	if r.Failed() {
		return StatusFailed
	}
	return StatusOK
}
