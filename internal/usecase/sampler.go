package usecase

import (
	"fmt"
	"time"

	"FreshnessTracker/internal/domain"
)

// Sampler answers ad-hoc single-reading queries. It never touches the
// active-stage set, storage or subscribers.
type Sampler struct {
	patchCount int
	location   *time.Location
	evaluate   Evaluator
}

// NewSampler validates patch ids against patchCount and renders times in loc.
func NewSampler(patchCount int, loc *time.Location) *Sampler {
	if loc == nil {
		loc = time.UTC
	}
	return &Sampler{patchCount: patchCount, location: loc, evaluate: Evaluate}
}

// Sample returns the reading the simulation would produce for the triple.
func (s *Sampler) Sample(stage domain.Stage, patch domain.PatchID, at time.Time) (domain.Sample, error) {
	if err := domain.ValidatePatch(patch, s.patchCount); err != nil {
		return domain.Sample{}, err
	}
	sample, err := s.evaluate(stage, at.In(s.location), patch)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("sample %s/%d: %w", stage, patch, err)
	}
	return sample, nil
}
