package mediavault

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls how many content files Vault.Verify checks at once
type ParallelConfig struct {
	// Enabled enables parallel processing
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinJobsForParallel is the minimum number of jobs to use parallel processing
	// Below this threshold, sequential processing is used
	MinJobsForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinJobsForParallel < 1 {
		return errors.New("parallel min jobs threshold must be at least 1")
	}
	return nil
}

// DefaultParallelConfig returns the default parallel processing configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:            true,
		MaxWorkers:         runtime.NumCPU(),
		MinJobsForParallel: 4,
	}
}

// runJobs calls fn for every job and returns the failures keyed by job. A
// panicking job is reported as a failure of that job. Cancelling ctx stops
// dispatching new jobs; the remaining ones are reported with ctx.Err().
func runJobs(ctx context.Context, cfg ParallelConfig, jobs []string, fn func(ctx context.Context, job string) error) map[string]error {
	failures := make(map[string]error)
	if len(jobs) == 0 {
		return failures
	}

	var mu sync.Mutex
	record := func(job string, err error) {
		mu.Lock()
		failures[job] = err
		mu.Unlock()
	}
	run := func(job string) {
		defer func() {
			if r := recover(); r != nil {
				record(job, fmt.Errorf("panic in verify worker: %v", r))
			}
		}()
		if err := fn(ctx, job); err != nil {
			record(job, err)
		}
	}

	numWorkers := cfg.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	if !cfg.Enabled || len(jobs) < cfg.MinJobsForParallel || numWorkers == 1 {
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				record(job, err)
				continue
			}
			run(job)
		}
		return failures
	}

	var wg sync.WaitGroup
	jobChan := make(chan string)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				run(job)
			}
		}()
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			record(job, err)
			continue
		}
		select {
		case jobChan <- job:
		case <-ctx.Done():
			record(job, ctx.Err())
		}
	}
	close(jobChan)
	wg.Wait()

	return failures
}
