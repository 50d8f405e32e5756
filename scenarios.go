package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/orian/configdesk/models"
)

const scenarioColumns = `id, COALESCE(owner_id, ''), name, COALESCE(description, ''), start_date, end_date,
	increase_time, locked, created_at, modified_at`

// SQLScenarioStore keeps scenario records in the scenarios table.
type SQLScenarioStore struct {
	conn *StoreConnector
	now  func() time.Time
}

func NewScenarioStore(conn *StoreConnector) *SQLScenarioStore {
	return &SQLScenarioStore{conn: conn, now: time.Now}
}

func (s *SQLScenarioStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *SQLScenarioStore) Create(ctx context.Context, sc *models.Scenario) (*models.Scenario, error) {
	out := *sc
	if out.ID == "" {
		out.ID = generateID()
	}
	if out.IncreaseTime == 0 {
		out.IncreaseTime = 1
	}
	now := s.timestamp()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.ModifiedAt = now

	err := s.conn.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.conn.Dialect().Rebind(
			`INSERT INTO scenarios (id, owner_id, name, description, start_date, end_date, increase_time, locked, created_at, modified_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			out.ID, nullString(out.OwnerID), out.Name, nullString(out.Description), nullTime(out.StartDate), nullTime(out.EndDate),
			out.IncreaseTime, out.Locked, out.CreatedAt, out.ModifiedAt,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario: %w", err)
	}
	return &out, nil
}

func (s *SQLScenarioStore) Get(ctx context.Context, id string) (*models.Scenario, error) {
	var sc *models.Scenario
	err := s.conn.Do(ctx, func(db *sql.DB) error {
		var err error
		sc, err = scanScenario(db.QueryRowContext(ctx, s.conn.Dialect().Rebind("SELECT "+scenarioColumns+" FROM scenarios WHERE id = ?"), id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %q: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SQLScenarioStore) List(ctx context.Context) ([]*models.Scenario, error) {
	var scenarios []*models.Scenario
	err := s.conn.Do(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "SELECT "+scenarioColumns+" FROM scenarios ORDER BY modified_at DESC, id ASC")
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()

		scenarios = []*models.Scenario{}
		for rows.Next() {
			sc, err := scanScenario(rows)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			scenarios = append(scenarios, sc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return scenarios, nil
}

func (s *SQLScenarioStore) Update(ctx context.Context, sc *models.Scenario) (*models.Scenario, error) {
	out := *sc
	out.ModifiedAt = s.timestamp()

	var n int64
	err := s.conn.Do(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, s.conn.Dialect().Rebind(
			`UPDATE scenarios SET owner_id = ?, name = ?, description = ?, start_date = ?, end_date = ?,
			 increase_time = ?, locked = ?, modified_at = ? WHERE id = ?`),
			nullString(out.OwnerID), out.Name, nullString(out.Description), nullTime(out.StartDate), nullTime(out.EndDate),
			out.IncreaseTime, out.Locked, out.ModifiedAt, out.ID,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update scenario: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("scenario %q: %w", out.ID, models.ErrNotFound)
	}
	return s.Get(ctx, out.ID)
}

func (s *SQLScenarioStore) Delete(ctx context.Context, id string) error {
	var n int64
	err := s.conn.Do(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, s.conn.Dialect().Rebind("DELETE FROM scenarios WHERE id = ?"), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete scenario: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("scenario %q: %w", id, models.ErrNotFound)
	}
	return nil
}

func scanScenario(row rowScanner) (*models.Scenario, error) {
	var sc models.Scenario
	var start, end sql.NullTime
	if err := row.Scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.Description, &start, &end,
		&sc.IncreaseTime, &sc.Locked, &sc.CreatedAt, &sc.ModifiedAt); err != nil {
		return nil, err
	}
	if start.Valid {
		t := start.Time.UTC()
		sc.StartDate = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		sc.EndDate = &t
	}
	sc.CreatedAt = sc.CreatedAt.UTC()
	sc.ModifiedAt = sc.ModifiedAt.UTC()
	return &sc, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
