package billing

import (
	"context"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/internal/core/numerator"
	"fiscalcore/pkg/logger"
)

// SeriesInput provisions a numbering series.
type SeriesInput struct {
	Name        string
	Type        DocumentType
	Prefix      string
	StartNumber int64
	RangeStart  *int64
	RangeEnd    *int64
	IsDefault   bool
}

// SeriesService manages the numbering series of a tenant.
type SeriesService struct {
	repo SeriesRepository
}

func NewSeriesService(repo SeriesRepository) *SeriesService {
	return &SeriesService{repo: repo}
}

func (s *SeriesService) List(ctx context.Context, tenantID string) ([]*numerator.Sequence, error) {
	return s.repo.List(ctx, tenantID)
}

func (s *SeriesService) Get(ctx context.Context, tenantID string, seriesID id.ID) (*numerator.Sequence, error) {
	return s.repo.GetByID(ctx, tenantID, seriesID)
}

// Create validates and stores a new active series.
func (s *SeriesService) Create(ctx context.Context, tenantID string, in SeriesInput) (*numerator.Sequence, error) {
	if in.Name == "" {
		return nil, apperror.NewValidation("series name is required")
	}
	if !in.Type.IsValid() {
		return nil, apperror.NewValidation("unknown document type").WithDetail("type", in.Type)
	}
	if in.RangeStart != nil && in.RangeEnd != nil && *in.RangeEnd < *in.RangeStart {
		return nil, apperror.NewValidation("range end is before range start")
	}

	seq, err := numerator.NewSequence(tenantID, in.Name, string(in.Type), in.Prefix,
		in.StartNumber, in.RangeStart, in.RangeEnd, in.IsDefault)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, seq); err != nil {
		return nil, err
	}
	logger.Info(ctx, "numbering series created",
		"series_id", seq.ID,
		"type", seq.Type,
		"prefix", seq.Prefix,
	)
	return seq, nil
}

// SetStatus pauses, resumes or closes a series. Closed is terminal.
func (s *SeriesService) SetStatus(ctx context.Context, tenantID string, seriesID id.ID, status numerator.Status) (*numerator.Sequence, error) {
	seq, err := s.repo.GetByID(ctx, tenantID, seriesID)
	if err != nil {
		return nil, err
	}
	if err := numerator.ValidateStatusChange(seq.Status, status); err != nil {
		return nil, err
	}
	if err := s.repo.SetStatus(ctx, tenantID, seriesID, status); err != nil {
		return nil, err
	}
	seq.Status = status
	logger.Info(ctx, "numbering series status changed", "series_id", seriesID, "status", status)
	return seq, nil
}
