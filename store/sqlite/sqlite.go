/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence contract of the allocation engine using
  SQLite. The same patterns apply to PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  allocation.ConfigReader: Matrix, requirements, seasonality, capacity, topology, load
  allocation.ConfigWriter: Seeding of the above
  allocation.PlanStore:    Draft plans and detail rows
  allocation.EventReader:  Production events
  allocation.TxStore:      WithTx unit of work for merges and imports

KEY TABLES:
  cities, nodes:          Topology per account
  classification_matrix:  One row per destination classification
  city_requirements:      Absolute per-source counts per city
  product_seasonality:    12 monthly percentages per product and year
  capacity_configs:       Weekly cap per panelist node
  allocation_plans:       Plan headers (draft, merged, cancelled)
  plan_details:           Planned origin -> destination rows
  events:                 Production shipment events

CONDITIONAL STATUS UPDATES:
  Plan transitions run as UPDATE ... WHERE status = ? so two writers racing
  on one plan cannot both succeed. Zero affected rows maps to
  generic.ErrConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole unit of work and routes every read inside it through the sql.Tx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/allocation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - allocation/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Topology
	CREATE TABLE IF NOT EXISTS cities (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL,
		classification TEXT NOT NULL CHECK (classification IN ('A', 'B', 'C'))
	);
	CREATE INDEX IF NOT EXISTS idx_cities_account ON cities(account_id);

	CREATE TABLE IF NOT EXISTS nodes (
		code TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		city_id TEXT NOT NULL,
		panelist_id TEXT,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_account ON nodes(account_id);

	-- Allocation configuration
	CREATE TABLE IF NOT EXISTS classification_matrix (
		account_id TEXT NOT NULL,
		destination TEXT NOT NULL,
		pct_from_a TEXT NOT NULL,
		pct_from_b TEXT NOT NULL,
		pct_from_c TEXT NOT NULL,
		PRIMARY KEY (account_id, destination)
	);

	CREATE TABLE IF NOT EXISTS city_requirements (
		account_id TEXT NOT NULL,
		city_id TEXT NOT NULL,
		from_a INTEGER NOT NULL DEFAULT 0,
		from_b INTEGER NOT NULL DEFAULT 0,
		from_c INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (account_id, city_id)
	);

	CREATE TABLE IF NOT EXISTS product_seasonality (
		account_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		months_json TEXT NOT NULL,
		PRIMARY KEY (account_id, product_id, year)
	);

	CREATE TABLE IF NOT EXISTS capacity_configs (
		account_id TEXT PRIMARY KEY,
		max_events_per_panelist_week INTEGER NOT NULL
	);

	-- Plans
	CREATE TABLE IF NOT EXISTS allocation_plans (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		carrier_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_events INTEGER NOT NULL,
		calculated_events INTEGER NOT NULL,
		unassigned_events INTEGER NOT NULL,
		merge_strategy TEXT NOT NULL,
		status TEXT NOT NULL,
		capacity_override INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		closed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_plans_account ON allocation_plans(account_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS plan_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id TEXT NOT NULL REFERENCES allocation_plans(id) ON DELETE CASCADE,
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		notes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_details_plan
		ON plan_details(plan_id, scheduled_date, destination, origin);

	-- Production events
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		carrier_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		status TEXT NOT NULL,
		plan_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Replace merges delete by tuple and status (hot path)
	CREATE INDEX IF NOT EXISTS idx_events_tuple_status
		ON events(account_id, carrier_id, product_id, status);

	-- Existing load is read per account and date range
	CREATE INDEX IF NOT EXISTS idx_events_account_date
		ON events(account_id, scheduled_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONFIGURATION (allocation.ConfigReader)
// =============================================================================

func (s *Store) ClassificationMatrix(ctx context.Context, account allocation.AccountID) ([]allocation.ClassificationMatrixRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT destination, pct_from_a, pct_from_b, pct_from_c
		FROM classification_matrix WHERE account_id = ? ORDER BY destination`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query matrix: %w", err)
	}
	defer rows.Close()

	var out []allocation.ClassificationMatrixRow
	for rows.Next() {
		var dest, a, b, c string
		if err := rows.Scan(&dest, &a, &b, &c); err != nil {
			return nil, fmt.Errorf("failed to scan matrix row: %w", err)
		}
		out = append(out, allocation.ClassificationMatrixRow{
			AccountID:   account,
			Destination: allocation.Classification(dest),
			FromA:       parseDecimal(a),
			FromB:       parseDecimal(b),
			FromC:       parseDecimal(c),
		})
	}
	return out, rows.Err()
}

func (s *Store) CityRequirements(ctx context.Context, account allocation.AccountID) ([]allocation.CityRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT city_id, from_a, from_b, from_c
		FROM city_requirements WHERE account_id = ? ORDER BY city_id`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query city requirements: %w", err)
	}
	defer rows.Close()

	var out []allocation.CityRequirement
	for rows.Next() {
		r := allocation.CityRequirement{AccountID: account}
		if err := rows.Scan(&r.CityID, &r.FromA, &r.FromB, &r.FromC); err != nil {
			return nil, fmt.Errorf("failed to scan city requirement: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Seasonality(ctx context.Context, account allocation.AccountID, product allocation.ProductID) ([]allocation.ProductSeasonality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT year, months_json FROM product_seasonality
		WHERE account_id = ? AND product_id = ? ORDER BY year`, account, product)
	if err != nil {
		return nil, fmt.Errorf("failed to query seasonality: %w", err)
	}
	defer rows.Close()

	var out []allocation.ProductSeasonality
	for rows.Next() {
		var (
			year   int
			months string
		)
		if err := rows.Scan(&year, &months); err != nil {
			return nil, fmt.Errorf("failed to scan seasonality: %w", err)
		}
		var values []decimal.Decimal
		if err := json.Unmarshal([]byte(months), &values); err != nil || len(values) != 12 {
			return nil, fmt.Errorf("corrupt seasonality %s/%d", product, year)
		}
		sp := allocation.ProductSeasonality{AccountID: account, ProductID: product, Year: year}
		copy(sp.Months[:], values)
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *Store) Capacity(ctx context.Context, account allocation.AccountID) (allocation.CapacityConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := allocation.CapacityConfig{AccountID: account}
	err := s.db.QueryRowContext(ctx,
		"SELECT max_events_per_panelist_week FROM capacity_configs WHERE account_id = ?", account,
	).Scan(&cfg.MaxEventsPerPanelistWeek)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("failed to query capacity: %w", err)
	}
	return cfg, true, nil
}

func (s *Store) Topology(ctx context.Context, account allocation.AccountID) (allocation.Topology, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var topo allocation.Topology
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, classification FROM cities WHERE account_id = ? ORDER BY id", account)
	if err != nil {
		return topo, fmt.Errorf("failed to query cities: %w", err)
	}
	for rows.Next() {
		c := allocation.City{AccountID: account}
		if err := rows.Scan(&c.ID, &c.Name, &c.Classification); err != nil {
			rows.Close()
			return topo, fmt.Errorf("failed to scan city: %w", err)
		}
		topo.Cities = append(topo.Cities, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return topo, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT code, city_id, panelist_id, status FROM nodes WHERE account_id = ? ORDER BY code", account)
	if err != nil {
		return topo, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var panelist sql.NullString
		n := allocation.Node{AccountID: account}
		if err := rows.Scan(&n.Code, &n.CityID, &panelist, &n.Status); err != nil {
			return topo, fmt.Errorf("failed to scan node: %w", err)
		}
		n.PanelistID = allocation.PanelistID(panelist.String)
		topo.Nodes = append(topo.Nodes, n)
	}
	return topo, rows.Err()
}

// ExistingLoad counts non-cancelled events touching the ISO weeks of the
// period. Each event counts for its origin and for its destination.
func (s *Store) ExistingLoad(ctx context.Context, q allocation.LoadQuery) (allocation.ExistingLoad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := generic.StartOfISOWeek(q.Period.Start)
	to := generic.StartOfISOWeek(q.Period.End).AddDate(0, 0, 6)

	query := `
		SELECT origin, destination, scheduled_date FROM events
		WHERE account_id = ? AND status != ?
		  AND scheduled_date >= ? AND scheduled_date <= ?`
	args := []any{q.AccountID, allocation.EventCancelled, generic.FormatDate(from), generic.FormatDate(to)}
	if q.Exclude != nil {
		query += ` AND NOT (carrier_id = ? AND product_id = ? AND status = ?)`
		args = append(args, q.Exclude.CarrierID, q.Exclude.ProductID, allocation.EventPending)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing load: %w", err)
	}
	defer rows.Close()

	load := make(allocation.ExistingLoad)
	for rows.Next() {
		var origin, destination, date string
		if err := rows.Scan(&origin, &destination, &date); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		day, err := generic.ParseDate(date)
		if err != nil {
			continue
		}
		week := generic.WeekOf(day)
		load.Add(allocation.NodeCode(origin), week, 1)
		load.Add(allocation.NodeCode(destination), week, 1)
	}
	return load, rows.Err()
}

// =============================================================================
// CONFIGURATION WRITES (allocation.ConfigWriter)
// =============================================================================

func (s *Store) SaveCity(ctx context.Context, c allocation.City) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cities (id, account_id, name, classification)
		VALUES (?, ?, ?, ?)`, c.ID, c.AccountID, c.Name, c.Classification)
	return err
}

func (s *Store) SaveNode(ctx context.Context, n allocation.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO nodes (code, account_id, city_id, panelist_id, status)
		VALUES (?, ?, ?, ?, ?)`, n.Code, n.AccountID, n.CityID, nullString(string(n.PanelistID)), n.Status)
	return err
}

func (s *Store) SaveMatrixRow(ctx context.Context, r allocation.ClassificationMatrixRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO classification_matrix (account_id, destination, pct_from_a, pct_from_b, pct_from_c)
		VALUES (?, ?, ?, ?, ?)`,
		r.AccountID, r.Destination, r.FromA.String(), r.FromB.String(), r.FromC.String())
	return err
}

func (s *Store) SaveCityRequirement(ctx context.Context, r allocation.CityRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO city_requirements (account_id, city_id, from_a, from_b, from_c)
		VALUES (?, ?, ?, ?, ?)`, r.AccountID, r.CityID, r.FromA, r.FromB, r.FromC)
	return err
}

func (s *Store) SaveSeasonality(ctx context.Context, sp allocation.ProductSeasonality) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	months, err := json.Marshal(sp.Months[:])
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO product_seasonality (account_id, product_id, year, months_json)
		VALUES (?, ?, ?, ?)`, sp.AccountID, sp.ProductID, sp.Year, string(months))
	return err
}

func (s *Store) SaveCapacity(ctx context.Context, c allocation.CapacityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO capacity_configs (account_id, max_events_per_panelist_week)
		VALUES (?, ?)`, c.AccountID, c.MaxEventsPerPanelistWeek)
	return err
}

// SeedEvents inserts production events in one transaction.
func (s *Store) SeedEvents(ctx context.Context, events []allocation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := insertEvents(ctx, sqlTx, events); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// PLANS (allocation.PlanStore)
// =============================================================================

// CreatePlan writes the header and its details atomically.
func (s *Store) CreatePlan(ctx context.Context, plan allocation.AllocationPlan, details []allocation.PlanDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var override sql.NullInt64
	if plan.CapacityOverride != nil {
		override = sql.NullInt64{Int64: int64(*plan.CapacityOverride), Valid: true}
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO allocation_plans
		(id, account_id, carrier_id, product_id, start_date, end_date, total_events,
		 calculated_events, unassigned_events, merge_strategy, status, capacity_override,
		 created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		plan.ID, plan.AccountID, plan.CarrierID, plan.ProductID,
		generic.FormatDate(plan.StartDate), generic.FormatDate(plan.EndDate),
		plan.TotalEvents, plan.CalculatedEvents, plan.UnassignedEvents,
		plan.MergeStrategy, plan.Status, override,
		formatTime(plan.CreatedAt), formatTime(plan.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	if err := insertDetails(ctx, sqlTx, plan.ID, details); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetPlan(ctx context.Context, id allocation.PlanID) (allocation.AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPlan(ctx, s.db, id)
}

func (s *Store) ListPlans(ctx context.Context, filter allocation.PlanFilter) ([]allocation.AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + planColumns + " FROM allocation_plans WHERE 1=1"
	var args []any
	if filter.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var out []allocation.AllocationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PlanDetails(ctx context.Context, id allocation.PlanID) ([]allocation.PlanDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return planDetails(ctx, s.db, id)
}

// =============================================================================
// EVENTS (allocation.EventReader)
// =============================================================================

func (s *Store) CountEvents(ctx context.Context, filter allocation.EventFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countEvents(ctx, s.db, filter)
}

func (s *Store) ListEvents(ctx context.Context, filter allocation.EventFilter) ([]allocation.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEvents(ctx, s.db, filter)
}

// =============================================================================
// TRANSACTIONAL STORE (allocation.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx allocation.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetPlan(ctx context.Context, id allocation.PlanID) (allocation.AllocationPlan, error) {
	return getPlan(ctx, ts.tx, id)
}

func (ts *txStore) ListPlans(ctx context.Context, filter allocation.PlanFilter) ([]allocation.AllocationPlan, error) {
	query := "SELECT " + planColumns + " FROM allocation_plans WHERE (? = '' OR account_id = ?) AND (? = '' OR status = ?) ORDER BY created_at DESC, id"
	rows, err := ts.tx.QueryContext(ctx, query, filter.AccountID, filter.AccountID, filter.Status, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()
	var out []allocation.AllocationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (ts *txStore) PlanDetails(ctx context.Context, id allocation.PlanID) ([]allocation.PlanDetail, error) {
	return planDetails(ctx, ts.tx, id)
}

func (ts *txStore) CountEvents(ctx context.Context, filter allocation.EventFilter) (int, error) {
	return countEvents(ctx, ts.tx, filter)
}

func (ts *txStore) ListEvents(ctx context.Context, filter allocation.EventFilter) ([]allocation.Event, error) {
	return listEvents(ctx, ts.tx, filter)
}

func (ts *txStore) ReplaceDetails(ctx context.Context, id allocation.PlanID, details []allocation.PlanDetail) error {
	if _, err := ts.tx.ExecContext(ctx, "DELETE FROM plan_details WHERE plan_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete details: %w", err)
	}
	return insertDetails(ctx, ts.tx, id, details)
}

func (ts *txStore) UpdatePlanCounts(ctx context.Context, id allocation.PlanID, calculated, unassigned int, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE allocation_plans SET calculated_events = ?, unassigned_events = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		calculated, unassigned, formatTime(at), id, allocation.StatusDraft)
	if err != nil {
		return fmt.Errorf("failed to update plan counts: %w", err)
	}
	return expectOneRow(res)
}

func (ts *txStore) TransitionPlan(ctx context.Context, id allocation.PlanID, t allocation.Transition) error {
	var closedAt sql.NullString
	if t.To == allocation.StatusMerged || t.To == allocation.StatusCancelled {
		closedAt = sql.NullString{String: formatTime(t.At), Valid: true}
	}
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE allocation_plans
		SET status = ?, merge_strategy = COALESCE(NULLIF(?, ''), merge_strategy), updated_at = ?, closed_at = ?
		WHERE id = ? AND status = ?`,
		t.To, t.Strategy, formatTime(t.At), closedAt, id, t.From)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	return expectOneRow(res)
}

func (ts *txStore) DeletePendingEvents(ctx context.Context, tuple allocation.Tuple) (int, error) {
	res, err := ts.tx.ExecContext(ctx, `
		DELETE FROM events
		WHERE account_id = ? AND carrier_id = ? AND product_id = ? AND status = ?`,
		tuple.AccountID, tuple.CarrierID, tuple.ProductID, allocation.EventPending)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (ts *txStore) InsertEvents(ctx context.Context, events []allocation.Event) error {
	return insertEvents(ctx, ts.tx, events)
}

// =============================================================================
// SHARED QUERIES - Run against the db or an open transaction
// =============================================================================

const planColumns = `id, account_id, carrier_id, product_id, start_date, end_date, total_events,
	calculated_events, unassigned_events, merge_strategy, status, capacity_override,
	created_at, updated_at, closed_at`

func getPlan(ctx context.Context, db dbtx, id allocation.PlanID) (allocation.AllocationPlan, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+planColumns+" FROM allocation_plans WHERE id = ?", id)
	if err != nil {
		return allocation.AllocationPlan{}, fmt.Errorf("failed to query plan: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return allocation.AllocationPlan{}, err
		}
		return allocation.AllocationPlan{}, fmt.Errorf("%w: %s", generic.ErrPlanNotFound, id)
	}
	return scanPlan(rows)
}

func scanPlan(rows *sql.Rows) (allocation.AllocationPlan, error) {
	var (
		p                allocation.AllocationPlan
		start, end       string
		override         sql.NullInt64
		created, updated string
		closed           sql.NullString
	)
	err := rows.Scan(&p.ID, &p.AccountID, &p.CarrierID, &p.ProductID, &start, &end,
		&p.TotalEvents, &p.CalculatedEvents, &p.UnassignedEvents, &p.MergeStrategy, &p.Status,
		&override, &created, &updated, &closed)
	if err != nil {
		return p, fmt.Errorf("failed to scan plan: %w", err)
	}
	p.StartDate, _ = generic.ParseDate(start)
	p.EndDate, _ = generic.ParseDate(end)
	if override.Valid {
		v := int(override.Int64)
		p.CapacityOverride = &v
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if closed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, closed.String)
		p.ClosedAt = &t
	}
	return p, nil
}

func planDetails(ctx context.Context, db dbtx, id allocation.PlanID) ([]allocation.PlanDetail, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT origin, destination, scheduled_date, notes FROM plan_details
		WHERE plan_id = ?
		ORDER BY scheduled_date, destination, origin, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query details: %w", err)
	}
	defer rows.Close()

	var out []allocation.PlanDetail
	for rows.Next() {
		var (
			d     = allocation.PlanDetail{PlanID: id}
			date  string
			notes sql.NullString
		)
		if err := rows.Scan(&d.Origin, &d.Destination, &date, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan detail: %w", err)
		}
		d.ScheduledDate, _ = generic.ParseDate(date)
		d.Notes = notes.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func insertDetails(ctx context.Context, db dbtx, id allocation.PlanID, details []allocation.PlanDetail) error {
	for _, d := range details {
		_, err := db.ExecContext(ctx, `
			INSERT INTO plan_details (plan_id, origin, destination, scheduled_date, notes)
			VALUES (?, ?, ?, ?, ?)`,
			id, d.Origin, d.Destination, generic.FormatDate(d.ScheduledDate), nullString(d.Notes))
		if err != nil {
			return fmt.Errorf("failed to insert detail: %w", err)
		}
	}
	return nil
}

func eventWhere(filter allocation.EventFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(col string, v string) {
		if v != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, v)
		}
	}
	add("account_id", string(filter.AccountID))
	add("carrier_id", string(filter.CarrierID))
	add("product_id", string(filter.ProductID))
	add("status", string(filter.Status))
	add("plan_id", string(filter.PlanID))
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func countEvents(ctx context.Context, db dbtx, filter allocation.EventFilter) (int, error) {
	where, args := eventWhere(filter)
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func listEvents(ctx context.Context, db dbtx, filter allocation.EventFilter) ([]allocation.Event, error) {
	where, args := eventWhere(filter)
	rows, err := db.QueryContext(ctx, `
		SELECT id, account_id, carrier_id, product_id, origin, destination,
		       scheduled_date, status, plan_id, created_at
		FROM events`+where+` ORDER BY scheduled_date, destination, origin, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []allocation.Event
	for rows.Next() {
		var (
			e             allocation.Event
			date, created string
			planID        sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.CarrierID, &e.ProductID, &e.Origin, &e.Destination,
			&date, &e.Status, &planID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.ScheduledDate, _ = generic.ParseDate(date)
		e.PlanID = allocation.PlanID(planID.String)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertEvents(ctx context.Context, db dbtx, events []allocation.Event) error {
	for _, e := range events {
		_, err := db.ExecContext(ctx, `
			INSERT INTO events
			(id, account_id, carrier_id, product_id, origin, destination, scheduled_date, status, plan_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AccountID, e.CarrierID, e.ProductID, e.Origin, e.Destination,
			generic.FormatDate(e.ScheduledDate), e.Status, nullString(string(e.PlanID)), formatTime(e.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("duplicate event %s: %w", e.ID, err)
			}
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"plan_details", "allocation_plans", "events",
		"classification_matrix", "city_requirements", "product_seasonality", "capacity_configs",
		"nodes", "cities",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
