package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS deposit_receipts (
	batch_id BYTEA PRIMARY KEY,
	params_id BYTEA NOT NULL,

	requests INTEGER NOT NULL,
	gas BIGINT NOT NULL,
	code SMALLINT NOT NULL,
	failed_index INTEGER NOT NULL,

	verified_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT batch_id_len CHECK (octet_length(batch_id) = 32),
	CONSTRAINT params_id_len CHECK (octet_length(params_id) = 32),
	CONSTRAINT requests_nonneg CHECK (requests >= 0),
	CONSTRAINT gas_nonneg CHECK (gas >= 0),
	CONSTRAINT code_range CHECK (code >= 0 AND code <= 5),
	CONSTRAINT failed_index_range CHECK (failed_index >= -1)
);

CREATE INDEX IF NOT EXISTS deposit_receipts_code_idx ON deposit_receipts (code, verified_at);
`
