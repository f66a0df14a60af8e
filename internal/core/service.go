package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// DefaultUploadTimeout bounds an ingestion up to the start of its commit.
var DefaultUploadTimeout = 5 * time.Minute

// Listing page size bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// IngestionEvent is published after a file has been committed.
type IngestionEvent struct {
	UploadID  string    `json:"upload_id"`
	OwnerID   int64     `json:"owner_id"`
	FileName  string    `json:"file_name"`
	Encoding  string    `json:"encoding"`
	Processed int       `json:"processed"`
	Saved     int       `json:"saved"`
	Skipped   int       `json:"skipped"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	ClientIP  string    `json:"client_ip,omitempty"`
	At        time.Time `json:"at"`

	SkipReasons map[SkipReason]int `json:"skip_reasons,omitempty"`
}

// EventPublisher delivers ingestion events to downstream consumers.
type EventPublisher interface {
	PublishIngestion(ctx context.Context, ev IngestionEvent) error
	Close() error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Pipeline      PipelineConfig
	MaxConcurrent int
	MaxWait       time.Duration
	UploadTimeout time.Duration
}

// Service is the entry point for transports: ingestion plus company access.
type Service struct {
	store         CompanyStore
	pipeline      *Pipeline
	limiter       *IngestLimiter
	events        EventPublisher
	uploadTimeout time.Duration
}

// NewService creates a Service. events may be nil.
func NewService(store CompanyStore, cfg ServiceConfig, events EventPublisher) *Service {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	return &Service{
		store:         store,
		pipeline:      NewPipeline(store, cfg.Pipeline),
		limiter:       NewIngestLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		events:        events,
		uploadTimeout: cfg.UploadTimeout,
	}
}

// MaxFileSize returns the upload size limit in bytes.
func (s *Service) MaxFileSize() int64 {
	return s.pipeline.MaxFileSize()
}

// Ingest runs one upload through the pipeline under the concurrency limit.
func (s *Service) Ingest(ctx context.Context, up Upload) (*IngestionResult, error) {
	var result *IngestionResult

	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()

		var err error
		result, err = s.pipeline.Ingest(ctx, up)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, up.OwnerID, result)
	return result, nil
}

// publish is best effort; a failed publish never fails the upload.
func (s *Service) publish(ctx context.Context, ownerID int64, r *IngestionResult) {
	if s.events == nil || r.Saved == 0 {
		return
	}

	ev := IngestionEvent{
		UploadID:  r.UploadID,
		OwnerID:   ownerID,
		FileName:  r.FileName,
		Encoding:  r.Encoding,
		Processed: r.Processed,
		Saved:     r.Saved,
		Skipped:   len(r.Skipped),
		Created:   r.Created,
		Updated:   r.Updated,
		ClientIP:  ClientFromContext(ctx).IP,
		At:        time.Now().UTC(),

		SkipReasons: r.SkipCounts(),
	}

	if err := s.events.PublishIngestion(context.WithoutCancel(ctx), ev); err != nil {
		logging.FromContext(ctx).Warn("publish ingestion event failed",
			"upload_id", r.UploadID,
			"error", err,
		)
	}
}

// CompanyPage is one page of an owner's companies.
type CompanyPage struct {
	Companies []CompanySummary `json:"companies"`
	Total     int              `json:"total"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// ListCompanies returns a page of the owner's companies, newest first.
// limit <= 0 means DefaultPageSize; limit is capped at MaxPageSize.
func (s *Service) ListCompanies(ctx context.Context, ownerID int64, limit, offset int) (*CompanyPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	companies, total, err := s.store.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	if companies == nil {
		companies = []CompanySummary{}
	}

	return &CompanyPage{Companies: companies, Total: total, Limit: limit, Offset: offset}, nil
}

// GetCompany returns one company owned by ownerID.
func (s *Service) GetCompany(ctx context.Context, ownerID, companyID int64) (*Company, error) {
	c, err := s.store.GetByID(ctx, ownerID, companyID)
	if err != nil {
		return nil, fmt.Errorf("get company %d: %w", companyID, err)
	}
	return c, nil
}

// GetJSONData returns the original CSV row of a company, keys in file order.
func (s *Service) GetJSONData(ctx context.Context, ownerID, companyID int64) (RawRow, error) {
	c, err := s.GetCompany(ctx, ownerID, companyID)
	if err != nil {
		return RawRow{}, err
	}
	return c.JSONData, nil
}

// UpdateCompany applies a validated partial update.
func (s *Service) UpdateCompany(ctx context.Context, ownerID, companyID int64, patch CompanyPatch) (*Company, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}
	c, err := s.store.UpdateCompany(ctx, ownerID, companyID, patch)
	if err != nil {
		return nil, fmt.Errorf("update company %d: %w", companyID, err)
	}
	return c, nil
}

// ReplaceJSONData overwrites the stored raw row of a company.
func (s *Service) ReplaceJSONData(ctx context.Context, ownerID, companyID int64, data RawRow) error {
	if err := s.store.ReplaceJSONData(ctx, ownerID, companyID, data); err != nil {
		return fmt.Errorf("replace json data of company %d: %w", companyID, err)
	}
	return nil
}

// DeleteCompany removes a company owned by ownerID.
func (s *Service) DeleteCompany(ctx context.Context, ownerID, companyID int64) error {
	if err := s.store.DeleteCompany(ctx, ownerID, companyID); err != nil {
		return fmt.Errorf("delete company %d: %w", companyID, err)
	}
	return nil
}

// LimiterStatus reports ingestion slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForIngestions blocks until running ingestions finish or ctx ends.
func (s *Service) WaitForIngestions(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
