package plan

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMaxParallel  = 10
	defaultPollInterval = 5 * time.Second
)

// ExecuteOptions tunes a single plan execution.
type ExecuteOptions struct {
	// MaxParallel caps the number of steps running at once. Zero means the
	// default of 10.
	MaxParallel int

	// Poll, when set, is called repeatedly for every running step so callers
	// can surface progress (event tailing).
	Poll func(ctx context.Context, key string)

	// PollInterval is the delay between Poll calls per step. Zero means 5s.
	PollInterval time.Duration
}

// Result records how one step ended.
type Result struct {
	// Key is the step key.
	Key string

	// Status is the terminal status label returned by the step.
	Status string

	// Err is the step's failure, nil on success.
	Err error

	// Blocked marks a step that never ran because something it requires
	// failed.
	Blocked bool

	// Started and Completed bound the step's execution. Zero for blocked
	// steps.
	Started   time.Time
	Completed time.Time
}

type completion struct {
	key       string
	status    string
	err       error
	started   time.Time
	completed time.Time
}

// Execute runs the plan. Steps run as soon as everything they require has
// completed, up to MaxParallel at once. A failed step blocks its dependents
// but unrelated branches keep running; every step ends in exactly one of
// completed, failed, or blocked. The returned map always covers every step.
func (p *Plan) Execute(ctx context.Context, opts ExecuteOptions) (map[string]*Result, error) {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}

	results := make(map[string]*Result, len(p.steps))
	pending := make(map[string]bool, len(p.steps))
	for key := range p.steps {
		pending[key] = true
	}
	completed := make(map[string]bool)
	failed := make(map[string]bool)

	completions := make(chan completion)
	running := 0

	for len(pending) > 0 || running > 0 {
		if ctx.Err() != nil {
			// Stop launching; drain what is still pending as cancelled.
			for key := range pending {
				delete(pending, key)
				results[key] = &Result{Key: key, Err: ctx.Err()}
				failed[key] = true
			}
		}

		progressed := true
		for progressed {
			progressed = false
			for key := range pending {
				step := p.steps[key]

				blocked := false
				ready := true
				for _, req := range step.Requires {
					if failed[req] {
						blocked = true
						break
					}
					if !completed[req] {
						ready = false
					}
				}

				if blocked {
					delete(pending, key)
					failed[key] = true
					results[key] = &Result{Key: key, Blocked: true}
					progressed = true
					continue
				}
				if !ready || running >= maxParallel {
					continue
				}

				delete(pending, key)
				running++
				progressed = true
				go p.runStep(ctx, step, opts, completions)
			}
		}

		if running == 0 {
			continue
		}

		c := <-completions
		running--

		result := &Result{
			Key:       c.key,
			Status:    c.status,
			Err:       c.err,
			Started:   c.started,
			Completed: c.completed,
		}
		results[c.key] = result
		if c.err != nil {
			failed[c.key] = true
		} else {
			completed[c.key] = true
		}
	}

	failedCount := 0
	for _, r := range results {
		if r.Err != nil || r.Blocked {
			failedCount++
		}
	}
	if failedCount > 0 {
		return results, fmt.Errorf("%d of %d steps did not complete", failedCount, len(results))
	}
	return results, nil
}

// runStep executes one step, driving the poll callback while it runs.
func (p *Plan) runStep(ctx context.Context, step *Step, opts ExecuteOptions, completions chan<- completion) {
	started := time.Now()

	var pollWg sync.WaitGroup
	pollStop := make(chan struct{})
	if opts.Poll != nil {
		interval := opts.PollInterval
		if interval <= 0 {
			interval = defaultPollInterval
		}

		pollWg.Add(1)
		go func() {
			defer pollWg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-pollStop:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					opts.Poll(ctx, step.Key)
				}
			}
		}()
	}

	status, err := step.Run(ctx)

	close(pollStop)
	pollWg.Wait()

	completions <- completion{
		key:       step.Key,
		status:    status,
		err:       err,
		started:   started,
		completed: time.Now(),
	}
}
