package cron

import (
	"context"
	"fmt"
)

// Job is one unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs keyed by name and remembers registration order, which
// is the order a cycle runs them in.
type Registry struct {
	order []string
	byKey map[string]Job
}

// NewRegistry registers jobs in order and fails on the first bad one.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{byKey: map[string]Job{}}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds job. Names must be non-empty and unique because metrics and
// logs are labelled by them.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron job required")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron job name required")
	}
	if r.byKey == nil {
		r.byKey = map[string]Job{}
	}
	if _, dup := r.byKey[name]; dup {
		return fmt.Errorf("cron job %q already registered", name)
	}
	r.byKey[name] = job
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byKey[name]
	return job, ok
}

// Names lists job names in run order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) each(fn func(Job) bool) {
	for _, name := range r.order {
		if !fn(r.byKey[name]) {
			return
		}
	}
}
