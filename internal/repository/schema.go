package repository

// Schema defines the SQL statements that create the ledger tables.
// Amounts are NUMERIC so balances are never accumulated in binary floats.
const Schema = `
CREATE SCHEMA IF NOT EXISTS ledger;

CREATE TABLE IF NOT EXISTS ledger.users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ledger.accounts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES ledger.users(id),
    name TEXT NOT NULL,
    currency TEXT NOT NULL,
    start_balance NUMERIC NOT NULL DEFAULT 0,
    current_balance NUMERIC NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    kind TEXT NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_accounts_user ON ledger.accounts(user_id, sort_order);

-- seq breaks ties between operations sharing the same created instant
CREATE TABLE IF NOT EXISTS ledger.operations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    type TEXT NOT NULL,
    category_id TEXT NOT NULL,
    amount NUMERIC NOT NULL,
    balance NUMERIC NOT NULL DEFAULT 0,
    transfer_operation_id TEXT,
    transfer_account_id TEXT,
    transfer_amount NUMERIC,
    transfer_balance NUMERIC,
    created TIMESTAMPTZ NOT NULL,
    seq BIGSERIAL NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    meta JSONB
);

CREATE INDEX IF NOT EXISTS idx_operations_account
    ON ledger.operations(user_id, account_id, created, seq);

CREATE INDEX IF NOT EXISTS idx_operations_counterpart
    ON ledger.operations(user_id, transfer_account_id, created, seq)
    WHERE transfer_account_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_operations_feed
    ON ledger.operations(user_id, created DESC, seq DESC);

CREATE TABLE IF NOT EXISTS ledger.transfers (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    from_operation_id TEXT NOT NULL UNIQUE,
    to_operation_id TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ledger.category_trees (
    user_id TEXT PRIMARY KEY,
    tree JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
