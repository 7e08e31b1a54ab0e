package runner

import (
	"context"
	"sync"
)

// Recorder is a Runner that records commands instead of running them. Fail
// decides the outcome of each command; nil means success.
type Recorder struct {
	Fail func(cmd Command) error

	mu       sync.Mutex
	commands []Command
}

var _ Runner = (*Recorder)(nil)

func (r *Recorder) Run(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail(cmd)
	}
	return nil
}

func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}
