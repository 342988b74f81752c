package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one step of a sweep cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type step struct {
	job  Job
	gate bool
}

// Registry holds the steps of a sweep in run order. Job names are unique.
type Registry struct {
	steps []step
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register appends a job that runs regardless of earlier failures.
func (r *Registry) Register(job Job) error {
	return r.add(job, false)
}

// RegisterGate appends a job whose failure skips every later step in the
// same cycle.
func (r *Registry) RegisterGate(job Job) error {
	return r.add(job, true)
}

func (r *Registry) add(job Job, gate bool) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("job name required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.steps = append(r.steps, step{job: job, gate: gate})
	return nil
}

// Names lists job names in run order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.steps))
	for _, s := range r.steps {
		names = append(names, s.job.Name())
	}
	return names
}

func (r *Registry) snapshot() []step {
	out := make([]step, len(r.steps))
	copy(out, r.steps)
	return out
}
