// Package recordservice implements the record store: creation, listing and
// partial updates of assistance records over a storage collection.
package recordservice

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/assistenze/internal/apperr"
	"github.com/starford/assistenze/internal/checksum"
	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/storage"
	"github.com/starford/assistenze/internal/timewindow"
)

// Client-facing messages.
const (
	MsgNoRecords      = "Nessun record trovato"
	MsgRecordNotFound = "Record non trovato"
	MsgStaleRecord    = "Il record è stato modificato nel frattempo"
	MsgSaveFailed     = "Errore nel salvataggio dei dati"
	MsgReadFailed     = "Errore nella lettura dei dati"
)

// Service coordinates validation and persistence of records.
type Service struct {
	records storage.Collection[models.Record]
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets the identifier generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a record service over the given collection.
func NewService(records storage.Collection[models.Record], opts ...Option) *Service {
	s := &Service{
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ETag returns the version token of a single record.
func ETag(r models.Record) string {
	tag, err := checksum.JSON(r)
	if err != nil {
		return ""
	}
	return tag
}

// Create validates the time window, assigns an identifier and appends the record.
func (s *Service) Create(ctx context.Context, r models.Record) (models.Record, error) {
	d, err := timewindow.Duration(r.StartTime, r.EndTime)
	if err != nil {
		return models.Record{}, err
	}
	r.ID = s.newID()
	r.SetDuration(d)
	r.CreatedAt = s.now()
	r.UpdatedAt = time.Time{}

	_, err = s.records.Update(ctx, func(snap storage.Snapshot[models.Record]) ([]models.Record, error) {
		return append(snap.Items, r), nil
	})
	if err != nil {
		return models.Record{}, storageErr(MsgSaveFailed, err)
	}
	return r, nil
}

// List returns the records passing filter, in insertion order.
func (s *Service) List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	snap, err := s.records.Load(ctx)
	if err != nil {
		return nil, storageErr(MsgReadFailed, err)
	}
	out := make([]models.Record, 0, len(snap.Items))
	for i := range snap.Items {
		if filter.Match(&snap.Items[i]) {
			out = append(out, snap.Items[i])
		}
	}
	return out, nil
}

// All returns every stored record and whether a backing collection exists.
func (s *Service) All(ctx context.Context) ([]models.Record, bool, error) {
	snap, err := s.records.Load(ctx)
	if err != nil {
		return nil, false, storageErr(MsgReadFailed, err)
	}
	return snap.Items, snap.Exists(), nil
}

// Get returns the record with the given id and its ETag.
func (s *Service) Get(ctx context.Context, id string) (models.Record, string, error) {
	snap, err := s.records.Load(ctx)
	if err != nil {
		return models.Record{}, "", storageErr(MsgReadFailed, err)
	}
	i := indexOf(snap.Items, id)
	if i < 0 {
		return models.Record{}, "", apperr.New(apperr.ErrNotFound, MsgRecordNotFound)
	}
	return snap.Items[i], ETag(snap.Items[i]), nil
}

// Update merges patch into the record with the given id. When ifMatch is
// non-empty it must equal the record's current ETag.
//
// Duration follows the time fields: it is recomputed when the patch touches
// a time field and both times are present, cleared when one of them is now
// blank, and left as is when the patch does not touch the window.
func (s *Service) Update(ctx context.Context, id string, patch models.RecordPatch, ifMatch string) (models.Record, error) {
	var updated models.Record
	_, err := s.records.Update(ctx, func(snap storage.Snapshot[models.Record]) ([]models.Record, error) {
		if !snap.Exists() {
			return nil, apperr.New(apperr.ErrNotFound, MsgNoRecords)
		}
		i := indexOf(snap.Items, id)
		if i < 0 {
			return nil, apperr.New(apperr.ErrNotFound, MsgRecordNotFound)
		}
		r := snap.Items[i]
		if ifMatch != "" && ifMatch != ETag(r) {
			return nil, apperr.New(apperr.ErrConflict, MsgStaleRecord)
		}

		patch.Apply(&r)
		if patch.TouchesWindow() {
			if r.HasWindow() {
				d, err := timewindow.Duration(r.StartTime, r.EndTime)
				if err != nil {
					return nil, err
				}
				r.SetDuration(d)
			} else {
				r.Duration = nil
			}
		}
		r.UpdatedAt = s.now()

		snap.Items[i] = r
		updated = r
		return snap.Items, nil
	})
	if err != nil {
		return models.Record{}, storageErr(MsgSaveFailed, err)
	}
	return updated, nil
}

// Migrate fixes records written by older versions of the application:
// missing or duplicated identifiers get a fresh one, zero durations are
// dropped and durations are recomputed where the window is valid.
// It returns the number of records changed.
func (s *Service) Migrate(ctx context.Context) (int, error) {
	changed := 0
	_, err := s.records.Update(ctx, func(snap storage.Snapshot[models.Record]) ([]models.Record, error) {
		seen := make(map[string]struct{}, len(snap.Items))
		for i := range snap.Items {
			if migrateRecord(&snap.Items[i], seen, s.newID) {
				changed++
			}
		}
		if changed == 0 {
			return nil, storage.ErrSkip
		}
		return snap.Items, nil
	})
	if err != nil {
		return 0, storageErr(MsgSaveFailed, err)
	}
	return changed, nil
}

func migrateRecord(r *models.Record, seen map[string]struct{}, newID func() string) bool {
	changed := false
	id := strings.TrimSpace(r.ID)
	if _, dup := seen[id]; id == "" || dup {
		id = newID()
	}
	if id != r.ID {
		r.ID = id
		changed = true
	}
	seen[id] = struct{}{}

	if r.Duration != nil && *r.Duration == 0 {
		r.Duration = nil
		changed = true
	}
	if r.HasWindow() {
		if d, err := timewindow.Duration(r.StartTime, r.EndTime); err == nil {
			if r.Duration == nil || int(*r.Duration) != d {
				r.SetDuration(d)
				changed = true
			}
		}
	}
	return changed
}

func indexOf(items []models.Record, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(items, func(r models.Record) bool { return r.ID == id })
}

// storageErr passes through errors that already carry a kind and wraps the
// rest as storage failures.
func storageErr(msg string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, apperr.ErrConflict) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(apperr.ErrStorage, msg, err)
}
