package sqlite

import (
	"context"
	"log"
	"time"

	"portfolio-systemv1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// RunPriceLog reads price updates from updateCh and appends them to the
// price_history table in batched transactions. Flushes every batchSize
// updates or every flushDelay, whichever comes first. Blocks until ctx is
// cancelled or updateCh is closed.
func (s *Store) RunPriceLog(ctx context.Context, updateCh <-chan model.PriceUpdate) {
	batch := make([]model.PriceUpdate, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertPriceBatch(batch); err != nil {
			log.Printf("[sqlite] price batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d price points in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case u, ok := <-updateCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, u)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertPriceBatch inserts a batch of price points in a single transaction.
func (s *Store) insertPriceBatch(updates []model.PriceUpdate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO price_history (asset_id, ts, price)
		VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.Exec(u.AssetID, toNanos(u.TS), u.Price); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ReadPriceHistory returns the stored observations for an asset after the
// given time, oldest first.
func (s *Store) ReadPriceHistory(ctx context.Context, assetID string, after time.Time) ([]model.PriceUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, ts, price FROM price_history
		WHERE asset_id = ? AND ts > ?
		ORDER BY ts ASC`, assetID, toNanos(after))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriceUpdate
	for rows.Next() {
		var u model.PriceUpdate
		var ts int64
		if err := rows.Scan(&u.AssetID, &ts, &u.Price); err != nil {
			return nil, err
		}
		u.TS = fromNanos(ts)
		out = append(out, u)
	}
	return out, rows.Err()
}
