package monitor

import (
	"context"
	"errors"

	"botfleet/internal/service"
	"botfleet/internal/store"
)

// populateService is the slice of the job service the populator calls.
type populateService interface {
	Populate(ctx context.Context, batchSize int, operation string) ([]store.Job, error)
}

// Populator periodically creates a batch of jobs with random operands and a
// random operation.
type Populator struct {
	jobs      populateService
	batchSize int
}

// NewPopulator wires the periodic job generator.
func NewPopulator(jobs populateService, batchSize int) *Populator {
	return &Populator{jobs: jobs, batchSize: batchSize}
}

func (p *Populator) Name() string {
	return "Populator"
}

// RunOnce creates one batch. Hitting the pending ceiling is backpressure,
// not an error.
func (p *Populator) RunOnce(ctx context.Context) (Report, error) {
	created, err := p.jobs.Populate(ctx, p.batchSize, "")
	if err != nil {
		var se *service.Error
		if errors.As(err, &se) && se.Code == service.CodePendingCeiling {
			return Report{}, nil
		}
		return Report{}, err
	}

	return Report{Checked: len(created), Recovered: len(created)}, nil
}
