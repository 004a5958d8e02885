// Package importer loads ingestion records (a JSON array or JSON lines) into
// the listing store as pending listings.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"autolist/apperrors"
	"autolist/storage"
)

const maxReportedErrors = 20

type Importer struct {
	store  storage.ListingStore
	logger *zap.Logger
	now    func() time.Time
}

func New(store storage.ListingStore, logger *zap.Logger) *Importer {
	return &Importer{
		store:  store,
		logger: logger.Named("import"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	Read     int      `json:"read"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *Result) addError(err error) {
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Import reads every record from r. Invalid records are skipped and store
// failures are counted; neither stops the import. A malformed stream stops
// it with a validation error and the partial result.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{}

	err := Decode(r, func(rec Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Read++

		l, err := rec.ToListing(im.now())
		if err != nil {
			res.Skipped++
			res.addError(err)
			im.logger.Warn("Skipping invalid record", zap.Int("record", res.Read), zap.Error(err))
			return nil
		}

		if err := im.store.UpsertListing(ctx, l); err != nil {
			err = eris.Wrapf(apperrors.ErrPersistence, "importer: upsert listing %s: %v", l.ID, err)
			res.Failed++
			res.addError(err)
			im.logger.Warn("Failed to store listing", zap.String("listing_id", l.ID.String()), zap.Error(err))
			return nil
		}
		res.Imported++
		return nil
	})

	im.logger.Info("Import finished",
		zap.Int("read", res.Read),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, err
}

// Decode calls fn for every record in r, which holds either one JSON array of
// records or a stream of records (JSON lines). Errors from fn stop decoding
// and are returned as is.
func Decode(r io.Reader, fn func(Record) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "importer: read input")
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return eris.Wrapf(apperrors.ErrValidation, "importer: read array: %v", err)
		}
		for dec.More() {
			var rec Record
			if err := dec.Decode(&rec); err != nil {
				return eris.Wrapf(apperrors.ErrValidation, "importer: decode record: %v", err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return eris.Wrapf(apperrors.ErrValidation, "importer: close array: %v", err)
		}
		return nil
	}

	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrapf(apperrors.ErrValidation, "importer: decode record: %v", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
