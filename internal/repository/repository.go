// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Aliases of the domain sentinels so callers can match on either.
var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// unavailable marks a driver failure as transient.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetTrustRecord retrieves a customer's trust record with organization isolation.
func (r *SQLRepository) GetTrustRecord(ctx context.Context, orgID string, customerID string) (*domain.TrustRecord, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT data FROM trust_records
		WHERE organization_id = ? AND customer_id = ?
	`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), orgID, customerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get trust record", err)
	}

	var rec domain.TrustRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse trust record %s: %w", customerID, err)
	}
	return &rec, nil
}

// UpsertTrustRecord creates or replaces a customer's trust record.
func (r *SQLRepository) UpsertTrustRecord(ctx context.Context, orgID string, rec *domain.TrustRecord) error {
	if orgID == "" || rec.CustomerID == "" {
		return fmt.Errorf("%w: orgID and customerID are required", ErrInvalidInput)
	}
	rec.OrganizationID = orgID
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode trust record: %w", err)
	}

	query := `
		INSERT INTO trust_records (
			organization_id, customer_id, trust_score, tier, whitelisted, blacklisted, data, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, customer_id) DO UPDATE SET
			trust_score = excluded.trust_score,
			tier = excluded.tier,
			whitelisted = excluded.whitelisted,
			blacklisted = excluded.blacklisted,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		orgID, rec.CustomerID, rec.TrustScore, string(rec.Tier),
		boolToInt(rec.Whitelisted), boolToInt(rec.Blacklisted),
		string(data), rec.UpdatedAt,
	)
	if err != nil {
		return unavailable("upsert trust record", err)
	}
	return nil
}

// GetTracker retrieves a card-testing tracker by key.
func (r *SQLRepository) GetTracker(ctx context.Context, key domain.TrackerKey) (*domain.CardTestingTracker, error) {
	if key.OrganizationID == "" || key.InvoiceID == "" {
		return nil, fmt.Errorf("%w: orgID and invoiceID are required", ErrInvalidInput)
	}

	query := `
		SELECT data, version FROM card_testing_trackers
		WHERE organization_id = ? AND invoice_id = ? AND session_id = ?
	`

	var data string
	var version int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		key.OrganizationID, key.InvoiceID, key.SessionID,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get tracker", err)
	}

	var t domain.CardTestingTracker
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to parse tracker %s: %w", key, err)
	}
	t.Version = version
	return &t, nil
}

// SaveTracker writes a tracker if and only if the stored version equals
// expectedVersion. expectedVersion 0 inserts a new tracker. On success the
// tracker's Version is advanced by one.
func (r *SQLRepository) SaveTracker(ctx context.Context, t *domain.CardTestingTracker, expectedVersion int64) error {
	if t.OrganizationID == "" || t.InvoiceID == "" {
		return fmt.Errorf("%w: orgID and invoiceID are required", ErrInvalidInput)
	}

	next := *t
	next.Version = expectedVersion + 1
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode tracker: %w", err)
	}

	var result sql.Result
	if expectedVersion == 0 {
		query := `
			INSERT INTO card_testing_trackers (
				id, organization_id, invoice_id, session_id, suspicion_score, blocked, version, data, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(organization_id, invoice_id, session_id) DO NOTHING
		`
		result, err = r.db.ExecContext(ctx, r.rebind(query),
			next.ID, next.OrganizationID, next.InvoiceID, next.SessionID,
			next.SuspicionScore, boolToInt(next.Blocked), next.Version,
			string(data), next.UpdatedAt,
		)
	} else {
		query := `
			UPDATE card_testing_trackers
			SET suspicion_score = ?, blocked = ?, version = ?, data = ?, updated_at = ?
			WHERE organization_id = ? AND invoice_id = ? AND session_id = ? AND version = ?
		`
		result, err = r.db.ExecContext(ctx, r.rebind(query),
			next.SuspicionScore, boolToInt(next.Blocked), next.Version,
			string(data), next.UpdatedAt,
			next.OrganizationID, next.InvoiceID, next.SessionID, expectedVersion,
		)
	}
	if err != nil {
		return unavailable("save tracker", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("save tracker", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: tracker %s at version %d", domain.ErrVersionConflict, t.Key(), expectedVersion)
	}

	t.Version = next.Version
	t.UpdatedAt = next.UpdatedAt
	return nil
}

// SaveFraudRule stores an operator-defined rule with organization isolation.
func (r *SQLRepository) SaveFraudRule(ctx context.Context, orgID string, rule *domain.FraudRule) error {
	if orgID == "" || rule.ID == "" {
		return fmt.Errorf("%w: orgID and rule id are required", ErrInvalidInput)
	}

	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode rule condition: %w", err)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.OrganizationID = orgID

	var threshold sql.NullFloat64
	if rule.Threshold != nil {
		threshold = sql.NullFloat64{Float64: *rule.Threshold, Valid: true}
	}

	query := `
		INSERT INTO fraud_rules (
			id, organization_id, name, description, enabled, priority, action, threshold, condition, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, organization_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			enabled = excluded.enabled,
			priority = excluded.priority,
			action = excluded.action,
			threshold = excluded.threshold,
			condition = excluded.condition,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, orgID, rule.Name, rule.Description,
		boolToInt(rule.Enabled), rule.Priority, string(rule.Action), threshold,
		string(condition), rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return unavailable("save fraud rule", err)
	}
	return nil
}

const fraudRuleColumns = `id, organization_id, name, description, enabled, priority, action, threshold, condition, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFraudRule(row scanner) (*domain.FraudRule, error) {
	var rule domain.FraudRule
	var description sql.NullString
	var threshold sql.NullFloat64
	var enabled int
	var action, condition string

	if err := row.Scan(
		&rule.ID, &rule.OrganizationID, &rule.Name, &description,
		&enabled, &rule.Priority, &action, &threshold, &condition,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Enabled = enabled == 1
	rule.Action = domain.RuleAction(action)
	if threshold.Valid {
		v := threshold.Float64
		rule.Threshold = &v
	}
	if err := json.Unmarshal([]byte(condition), &rule.Condition); err != nil {
		return nil, fmt.Errorf("failed to parse condition of rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

// GetFraudRule retrieves a rule by ID, enabled or not.
func (r *SQLRepository) GetFraudRule(ctx context.Context, orgID string, ruleID string) (*domain.FraudRule, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `SELECT ` + fraudRuleColumns + ` FROM fraud_rules WHERE organization_id = ? AND id = ?`

	rule, err := scanFraudRule(r.db.QueryRowContext(ctx, r.rebind(query), orgID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get fraud rule", err)
	}
	return rule, nil
}

// ListFraudRules retrieves the enabled rules of an organization in
// evaluation order: ascending priority, then id.
func (r *SQLRepository) ListFraudRules(ctx context.Context, orgID string) ([]*domain.FraudRule, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + fraudRuleColumns + `
		FROM fraud_rules
		WHERE organization_id = ? AND enabled = 1
		ORDER BY priority, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID)
	if err != nil {
		return nil, unavailable("list fraud rules", err)
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		rule, err := scanFraudRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list fraud rules", err)
	}
	return rules, nil
}

// DeleteFraudRule removes a rule.
func (r *SQLRepository) DeleteFraudRule(ctx context.Context, orgID string, ruleID string) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `DELETE FROM fraud_rules WHERE organization_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), orgID, ruleID)
	if err != nil {
		return unavailable("delete fraud rule", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("delete fraud rule", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAssessment stores an assessment for audit history.
func (r *SQLRepository) SaveAssessment(ctx context.Context, orgID string, a *domain.Assessment) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, organization_id, payment_id, invoice_id, customer_id,
			decision, source, risk_score, composite_score, actual_outcome, timestamp, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, orgID, a.PaymentID, a.InvoiceID, a.CustomerID,
		string(a.Decision), string(a.Source), a.Result.RiskScore, a.Composite.Score,
		string(a.ActualOutcome), a.Timestamp, string(data),
	)
	if err != nil {
		return unavailable("save assessment", err)
	}
	return nil
}

// GetAssessment retrieves an assessment by ID with organization isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, orgID string, assessmentID string) (*domain.Assessment, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `SELECT data FROM assessments WHERE organization_id = ? AND id = ?`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), orgID, assessmentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get assessment", err)
	}

	var a domain.Assessment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("failed to parse assessment %s: %w", assessmentID, err)
	}
	return &a, nil
}

// SaveAssessmentOutcome records the reported outcome of an assessment. The
// write only applies while the stored outcome equals previous.
func (r *SQLRepository) SaveAssessmentOutcome(ctx context.Context, orgID string, a *domain.Assessment, previous domain.ActualOutcome) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}

	query := `
		UPDATE assessments SET actual_outcome = ?, data = ?
		WHERE organization_id = ? AND id = ? AND actual_outcome = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(a.ActualOutcome), string(data), orgID, a.ID, string(previous),
	)
	if err != nil {
		return unavailable("save assessment outcome", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("save assessment outcome", err)
	}
	if rows == 0 {
		if _, err := r.GetAssessment(ctx, orgID, a.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: assessment %s outcome is no longer %q", domain.ErrVersionConflict, a.ID, previous)
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
