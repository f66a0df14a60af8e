package core

// ingest.go orchestrates one file ingestion:
//
//	guard -> decode -> delimiter -> header -> row fold -> commit -> summary
//
// Guard, decode and commit failures are fatal for the whole file and return an
// IngestionError without a result. Row failures are recorded in
// IngestionResult.Skipped and never stop the fold.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// DefaultMaxFileSize is the upload size limit when none is configured (50MB).
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// DefaultCommitTimeout bounds the store commit when none is configured.
const DefaultCommitTimeout = 2 * time.Minute

// ContextCheckInterval is how often (in rows) the fold checks for cancellation.
var ContextCheckInterval = 100

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Mapping           *FieldMapping // nil means DefaultFieldMapping
	MaxFileSize       int64
	Policy            DedupPolicy
	VerifyINNChecksum bool
	CommitTimeout     time.Duration
}

// Pipeline ingests CSV uploads into a CompanyStore.
// It holds no per-file state and is safe for concurrent use.
type Pipeline struct {
	store    CompanyStore
	mapping  *FieldMapping
	resolver *DedupResolver
	cfg      PipelineConfig
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store CompanyStore, cfg PipelineConfig) *Pipeline {
	if cfg.Mapping == nil {
		cfg.Mapping = DefaultFieldMapping()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyUpdate
	}

	return &Pipeline{
		store:    store,
		mapping:  cfg.Mapping,
		resolver: NewDedupResolver(store, cfg.Policy),
		cfg:      cfg,
	}
}

// MaxFileSize returns the configured size limit in bytes.
func (p *Pipeline) MaxFileSize() int64 {
	return p.cfg.MaxFileSize
}

// pendingRow is an accepted row waiting for commit.
type pendingRow struct {
	rowIndex   int
	record     CanonicalRecord
	superseded bool
}

// fold accumulates the outcome of the row loop.
type fold struct {
	pending []pendingRow
	byINN   map[int64]int // inn -> index into pending
	skipped []RowRejection
}

func (f *fold) reject(r RowRejection) {
	f.skipped = append(f.skipped, r)
}

// Ingest processes one upload for up.OwnerID.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*IngestionResult, error) {
	start := time.Now()
	log := logging.WithFields(ctx, "file", up.FileName, "owner_id", up.OwnerID)

	// 1. Format guard
	if ext := strings.ToLower(filepath.Ext(up.FileName)); ext != ".csv" {
		return nil, newIngestionError(KindUnsupportedFileType, nil, "%q is not a .csv file", up.FileName)
	}
	if int64(len(up.Data)) > p.cfg.MaxFileSize {
		return nil, newIngestionError(KindFileTooLarge, nil, "%d bytes exceeds %dMB limit",
			len(up.Data), p.cfg.MaxFileSize/(1024*1024))
	}

	// 2. Decode
	text, encoding, err := DecodeText(up.Data)
	if err != nil {
		return nil, newIngestionError(KindUndecodableFile, err, "%s", up.FileName)
	}

	// 3-4. Delimiter and header
	delim := DetectDelimiter(text)
	records, err := readRecords(text, delim)
	if err != nil {
		return nil, newIngestionError(KindUndecodableFile, err, "malformed CSV")
	}
	if len(records) == 0 || isEmptyRow(records[0]) {
		return nil, newIngestionError(KindEmptyFile, nil, "%s has no header row", up.FileName)
	}

	headers := DisambiguateHeaders(records[0])
	headerIdx := p.mapping.ResolveAll(headers)
	if _, ok := headerIdx[FieldINN]; !ok {
		log.Warn("no INN column found, every row will be rejected",
			"headers", headers,
			"expected", p.mapping.Aliases(FieldINN),
		)
	}
	validator := NewRowValidator(headerIdx, p.cfg.VerifyINNChecksum)

	result := &IngestionResult{
		UploadID:  uuid.New().String(),
		FileName:  up.FileName,
		SizeBytes: len(up.Data),
		Encoding:  encoding,
		Delimiter: string(delim),
	}
	log = log.With("upload_id", result.UploadID)
	ctx = logging.WithLogger(ctx, log)

	// 5. Row fold
	f := &fold{byINN: make(map[int64]int)}
	for i, values := range records[1:] {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, fmt.Errorf("ingest %s: %w", up.FileName, ctx.Err())
		}
		if isEmptyRow(values) {
			continue
		}
		result.Processed++

		if err := p.foldRow(ctx, f, up.OwnerID, validator, i+1, buildRawRow(headers, values)); err != nil {
			return nil, err
		}
	}

	// A caller deadline only aborts before commit starts.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", up.FileName, err)
	}

	// 6. Commit
	batch := make([]CanonicalRecord, 0, len(f.pending))
	for _, pr := range f.pending {
		if !pr.superseded {
			batch = append(batch, pr.record)
		}
	}

	if len(batch) > 0 {
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CommitTimeout)
		committed, err := p.store.CommitBatch(commitCtx, up.OwnerID, batch)
		cancel()
		if err != nil {
			log.Error("commit failed", "records", len(batch), "error", err)
			return nil, newIngestionError(KindStoreCommitFailure, err, "%d records rolled back", len(batch))
		}

		for _, c := range committed {
			action := ActionUpdated
			if c.Created {
				action = ActionCreated
				result.Created++
			} else {
				result.Updated++
			}
			result.SavedCompanies = append(result.SavedCompanies, SavedCompany{
				ID:      c.Company.ID,
				Name:    c.Company.Name.String,
				INN:     c.Company.INN,
				INNText: FormatINN(c.Company.INN),
				Action:  action,
			})
		}
	}

	// 7. Summary
	slices.SortStableFunc(f.skipped, func(a, b RowRejection) int { return a.RowIndex - b.RowIndex })
	result.Skipped = f.skipped
	result.Saved = len(result.SavedCompanies)
	result.Duration = time.Since(start)

	log.Info("ingestion complete",
		slog.String("encoding", encoding),
		slog.Int("processed", result.Processed),
		slog.Int("saved", result.Saved),
		slog.Int("skipped", len(result.Skipped)),
		slog.Any("skip_reasons", result.SkipCounts()),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// foldRow validates one row and folds it into f. Only store lookup failures are returned.
func (p *Pipeline) foldRow(ctx context.Context, f *fold, ownerID int64, v *RowValidator, rowIndex int, row RawRow) error {
	rec, rej := v.Validate(rowIndex, row)
	if rej != nil {
		logging.FromContext(ctx).Debug("row rejected", "row", rowIndex, "reason", rej.Reason)
		f.reject(*rej)
		return nil
	}

	innStr := FormatINN(rec.INN)

	// Same INN earlier in this file
	if j, ok := f.byINN[rec.INN]; ok {
		if p.resolver.Policy() == PolicyStrict {
			f.reject(RowRejection{
				RowIndex: rowIndex,
				INN:      innStr,
				Reason:   ReasonDuplicate,
				Detail:   fmt.Sprintf("same INN as row %d", f.pending[j].rowIndex),
			})
			return nil
		}

		f.pending[j].superseded = true
		f.reject(RowRejection{
			RowIndex: f.pending[j].rowIndex,
			INN:      innStr,
			Reason:   ReasonSupersededInFile,
			Detail:   fmt.Sprintf("replaced by row %d", rowIndex),
		})
		f.byINN[rec.INN] = len(f.pending)
		f.pending = append(f.pending, pendingRow{rowIndex: rowIndex, record: rec})
		return nil
	}

	// Under PolicyUpdate the commit upsert decides create versus update, so
	// only strict mode needs the store's answer before commit.
	if p.resolver.Policy() == PolicyStrict {
		decision, err := p.resolver.Decide(ctx, ownerID, rec)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("ingest: %w", err)
			}
			return newIngestionError(KindStoreCommitFailure, err, "row %d", rowIndex)
		}
		if decision == DecisionSkipAsDuplicate {
			f.reject(RowRejection{
				RowIndex: rowIndex,
				INN:      innStr,
				Reason:   ReasonDuplicate,
				Detail:   "company with this INN already exists",
			})
			return nil
		}
	}

	f.byINN[rec.INN] = len(f.pending)
	f.pending = append(f.pending, pendingRow{rowIndex: rowIndex, record: rec})
	return nil
}
