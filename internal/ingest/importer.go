package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid"

	"github.com/lox/waterbudget/internal/metrics"
	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/store"
)

const batchAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Store is the persistence the importer needs.
type Store interface {
	ChannelByCode(ctx context.Context, code string) (*models.Channel, error)
	DeviceSystem(ctx context.Context, kind models.ReadingKind, deviceID int64) (int64, error)
	InsertReading(ctx context.Context, r models.Reading) (bool, error)
	StartImportRun(ctx context.Context, batchID, source, fileName string) (*store.ImportRun, error)
	CompleteImportRun(ctx context.Context, run *store.ImportRun) error
	HasRawFile(ctx context.Context, payload []byte) (bool, error)
	StoreRawFile(ctx context.Context, runID int64, fileName string, payload []byte) (bool, error)
}

// FileResult counts what happened to one file.
type FileResult struct {
	File        string
	Skipped     bool // identical content imported before
	Parsed      int
	Stored      int
	Duplicates  int
	Rejected    int
	ParseErrors int
}

// Summary covers one import batch.
type Summary struct {
	BatchID string
	Files   []FileResult
	Failed  int
}

type Importer struct {
	store  Store
	logger *slog.Logger
}

func NewImporter(s Store, logger *slog.Logger) *Importer {
	return &Importer{store: s, logger: logger}
}

func NewBatchID() (string, error) {
	return gonanoid.Generate(batchAlphabet, 16)
}

// Run imports every file the source lists. A failing file is logged and
// counted but does not stop the batch.
func (im *Importer) Run(ctx context.Context, src Source) (*Summary, error) {
	batchID, err := NewBatchID()
	if err != nil {
		return nil, fmt.Errorf("batch id: %w", err)
	}
	names, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src.Name(), err)
	}
	im.logger.Info("telemetry import started", "batch", batchID, "source", src.Name(), "files", len(names))

	sum := &Summary{BatchID: batchID}
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		payload, err := src.Fetch(ctx, name)
		if err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("fetch %s: %w", name, err))
			im.logger.Error("telemetry fetch failed", "batch", batchID, "file", name, "error", err)
			continue
		}
		res, err := im.ImportFile(ctx, batchID, src.Name(), name, payload)
		if err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("import %s: %w", name, err))
			im.logger.Error("telemetry import failed", "batch", batchID, "file", name, "error", err)
			continue
		}
		sum.Files = append(sum.Files, *res)
	}

	im.logger.Info("telemetry import finished", "batch", batchID, "files", len(sum.Files), "failed", sum.Failed)
	return sum, errors.Join(errs...)
}

// ImportFile parses and stores one export. Files whose exact content was
// imported before are skipped.
func (im *Importer) ImportFile(ctx context.Context, batchID, source, name string, payload []byte) (*FileResult, error) {
	res := &FileResult{File: name}

	seen, err := im.store.HasRawFile(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("check raw file: %w", err)
	}
	if seen {
		res.Skipped = true
		im.logger.Info("telemetry file already imported", "batch", batchID, "file", name)
		return res, nil
	}

	run, err := im.store.StartImportRun(ctx, batchID, source, name)
	if err != nil {
		return nil, fmt.Errorf("start import run: %w", err)
	}

	records, lineErrs, err := ParseCSV(bytes.NewReader(payload))
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		if cerr := im.store.CompleteImportRun(ctx, run); cerr != nil {
			im.logger.Error("complete import run", "run", run.ID, "error", cerr)
		}
		return nil, err
	}
	res.Parsed = len(records)
	res.ParseErrors = len(lineErrs)
	for _, le := range lineErrs {
		im.logger.Warn("telemetry line skipped", "file", name, "error", le)
	}

	devices := make(map[string]int64)
	for _, rec := range records {
		if flags := ValidateRecord(rec); len(flags) > 0 {
			res.Rejected++
			metrics.ReadingsImported.WithLabelValues(string(rec.Kind), "rejected").Inc()
			im.logger.Warn("telemetry record rejected", "file", name, "line", rec.Line, "flags", strings.Join(flags, ","))
			continue
		}

		key := string(rec.Kind) + "/" + rec.Device
		deviceID, ok := devices[key]
		if !ok {
			deviceID, err = im.resolveDevice(ctx, rec.Kind, rec.Device)
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, strconv.ErrSyntax) || errors.Is(err, strconv.ErrRange) {
				res.Rejected++
				metrics.ReadingsImported.WithLabelValues(string(rec.Kind), "rejected").Inc()
				im.logger.Warn("telemetry device unknown", "file", name, "line", rec.Line, "device", rec.Device)
				continue
			}
			if err != nil {
				return nil, err
			}
			devices[key] = deviceID
		}

		inserted, err := im.store.InsertReading(ctx, toReading(rec, deviceID, source))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", rec.Line, err)
		}
		if inserted {
			res.Stored++
			metrics.ReadingsImported.WithLabelValues(string(rec.Kind), "stored").Inc()
		} else {
			res.Duplicates++
			metrics.ReadingsImported.WithLabelValues(string(rec.Kind), "duplicate").Inc()
		}
	}

	if _, err := im.store.StoreRawFile(ctx, run.ID, name, payload); err != nil {
		im.logger.Error("failed to store raw file", "file", name, "error", err)
	}

	run.RecordsParsed = sql.NullInt64{Int64: int64(res.Parsed), Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: int64(res.Stored), Valid: true}
	run.ParseErrors = sql.NullInt64{Int64: int64(res.ParseErrors + res.Rejected), Valid: true}
	run.Success = true
	if err := im.store.CompleteImportRun(ctx, run); err != nil {
		return nil, fmt.Errorf("complete import run: %w", err)
	}

	im.logger.Info("telemetry file imported",
		"batch", batchID,
		"file", name,
		"parsed", res.Parsed,
		"stored", res.Stored,
		"duplicates", res.Duplicates,
		"rejected", res.Rejected,
		"parse_errors", res.ParseErrors,
	)
	return res, nil
}

// resolveDevice maps an intake channel code or a storage facility id to the
// device id readings are keyed on.
func (im *Importer) resolveDevice(ctx context.Context, kind models.ReadingKind, device string) (int64, error) {
	switch kind {
	case models.ReadingIntake:
		ch, err := im.store.ChannelByCode(ctx, device)
		if err != nil {
			return 0, err
		}
		return ch.ID, nil
	case models.ReadingStorage:
		id, err := strconv.ParseInt(device, 10, 64)
		if err != nil {
			return 0, err
		}
		if _, err := im.store.DeviceSystem(ctx, kind, id); err != nil {
			return 0, err
		}
		return id, nil
	}
	return 0, fmt.Errorf("unknown kind %q", kind)
}

func toReading(rec Record, deviceID int64, source string) models.Reading {
	r := models.Reading{
		Kind:       rec.Kind,
		DeviceID:   deviceID,
		ObservedAt: rec.ObservedAt,
		Source:     source,
	}
	if rec.EndedAt != nil {
		r.EndedAt = sql.NullTime{Time: *rec.EndedAt, Valid: true}
	}
	if rec.Gauge != nil {
		r.Gauge = sql.NullFloat64{Float64: *rec.Gauge, Valid: true}
	}
	if rec.Volume != nil {
		r.Volume = sql.NullFloat64{Float64: *rec.Volume, Valid: true}
	}
	return r
}
