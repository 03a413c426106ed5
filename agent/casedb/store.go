package casedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var ErrCaseNotFound = errors.New("fraud case not found")

// Store reads and resolves fraud cases in SQLite through bun.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

// Open connects to the SQLite database at dsn. Use
// "file:demo?mode=memory&cache=shared" style DSNs for throwaway databases.
func Open(dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewStore(bun.NewDB(sqldb, sqlitedialect.New())), nil
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema and seeds the demo cases when the table is empty.
func (s *Store) Init(ctx context.Context) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.SeedDemoCases(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*FraudCase)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create fraud_cases table: %w", err)
	}
	return nil
}

// SeedDemoCases inserts the three demo review cases. Re-running against a
// populated table is a no-op, so restarts never duplicate rows.
func (s *Store) SeedDemoCases(ctx context.Context) error {
	count, err := s.db.NewSelect().Model((*FraudCase)(nil)).Count(ctx)
	if err != nil {
		return fmt.Errorf("count fraud cases: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := s.now().UTC()
	cases := demoCases()
	for i := range cases {
		cases[i].CaseStatus = StatusPendingReview
		cases[i].CreatedAt = now
		cases[i].UpdatedAt = now
	}
	if _, err := s.db.NewInsert().Model(&cases).Exec(ctx); err != nil {
		return fmt.Errorf("seed fraud cases: %w", err)
	}
	return nil
}

// FindPendingByName returns the oldest case still pending review for the
// named customer. Name matching ignores case.
func (s *Store) FindPendingByName(ctx context.Context, name string) (*FraudCase, error) {
	fc := new(FraudCase)
	err := s.db.NewSelect().
		Model(fc).
		Where("lower(user_name) = lower(?)", name).
		Where("case_status = ?", StatusPendingReview).
		OrderExpr("id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no pending case for %q", ErrCaseNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("find pending case: %w", err)
	}
	return fc, nil
}

func (s *Store) ByID(ctx context.Context, id int64) (*FraudCase, error) {
	fc := new(FraudCase)
	err := s.db.NewSelect().Model(fc).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrCaseNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load case %d: %w", id, err)
	}
	return fc, nil
}

// Resolve records the customer's decision on a case. cardBlocked is true only
// when the customer disputed the charge.
func (s *Store) Resolve(ctx context.Context, id int64, status, note string, cardBlocked bool) error {
	res, err := s.db.NewUpdate().
		Model((*FraudCase)(nil)).
		Set("case_status = ?", status).
		Set("outcome_note = ?", note).
		Set("card_blocked = ?", cardBlocked).
		Set("updated_at = ?", s.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("resolve case %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve case %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrCaseNotFound, id)
	}
	return nil
}

// List returns every case ordered by id, for the review summary at the end
// of a demo run.
func (s *Store) List(ctx context.Context) ([]FraudCase, error) {
	var cases []FraudCase
	if err := s.db.NewSelect().Model(&cases).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list fraud cases: %w", err)
	}
	return cases, nil
}

// demoCases mirrors the review queue the voice demo is scripted against:
// one customer who recognizes the charge, one who disputes it, and one who
// fails the security question.
func demoCases() []FraudCase {
	return []FraudCase{
		{
			UserName:            "John",
			SecurityIdentifier:  "12345",
			CardEnding:          "4242",
			TransactionName:     "ABC Industry",
			TransactionTime:     "2024-11-26 14:30:00",
			TransactionCategory: "e-commerce",
			TransactionSource:   "alibaba.com",
			TransactionAmount:   299.99,
			TransactionLocation: "Shanghai, China",
			SecurityQuestion:    "What is your mother's maiden name?",
			SecurityAnswer:      "Smith",
		},
		{
			UserName:            "Sarah",
			SecurityIdentifier:  "67890",
			CardEnding:          "8765",
			TransactionName:     "Luxury Goods Store",
			TransactionTime:     "2024-11-26 09:15:00",
			TransactionCategory: "retail",
			TransactionSource:   "luxurystore.com",
			TransactionAmount:   1299.99,
			TransactionLocation: "Paris, France",
			SecurityQuestion:    "What was your first pet's name?",
			SecurityAnswer:      "Fluffy",
		},
		{
			UserName:            "Mike",
			SecurityIdentifier:  "11111",
			CardEnding:          "1234",
			TransactionName:     "Gaming Platform",
			TransactionTime:     "2024-11-25 23:45:00",
			TransactionCategory: "gaming",
			TransactionSource:   "gaming-platform.com",
			TransactionAmount:   99.99,
			TransactionLocation: "Los Angeles, CA",
			SecurityQuestion:    "What city were you born in?",
			SecurityAnswer:      "Chicago",
		},
	}
}
