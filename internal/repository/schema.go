package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaTrustRecords = `
CREATE TABLE IF NOT EXISTS trust_records (
    organization_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    trust_score INTEGER NOT NULL,
    tier TEXT NOT NULL,
    whitelisted INTEGER NOT NULL DEFAULT 0,
    blacklisted INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, customer_id)
);

CREATE INDEX IF NOT EXISTS idx_trust_records_tier ON trust_records(organization_id, tier);
`

// schemaTrackers stores card-testing trackers. The version column backs
// conditional writes; session_id is '' when the tracker is invoice-scoped.
const schemaTrackers = `
CREATE TABLE IF NOT EXISTS card_testing_trackers (
    id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    suspicion_score INTEGER NOT NULL,
    blocked INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL,
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, invoice_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_trackers_blocked ON card_testing_trackers(organization_id, blocked);
`

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL,
    action TEXT NOT NULL,
    threshold REAL,
    condition TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, organization_id)
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_priority ON fraud_rules(organization_id, enabled, priority);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL,
    payment_id TEXT NOT NULL,
    invoice_id TEXT,
    customer_id TEXT,
    decision TEXT NOT NULL,
    source TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    composite_score INTEGER NOT NULL,
    actual_outcome TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_org ON assessments(organization_id);
CREATE INDEX IF NOT EXISTS idx_assessments_payment ON assessments(organization_id, payment_id);
CREATE INDEX IF NOT EXISTS idx_assessments_decision ON assessments(organization_id, decision);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTrustRecords,
		schemaTrackers,
		schemaFraudRules,
		schemaAssessments,
	}
}
