package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250301-000000",
		Description: "Initial schema",
		Up: []string{
			// Users - identity lives in Clerk, but token accounting is ours.
			// id is the Clerk user ID ("user_xxx").
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				display_name TEXT,
				tier TEXT NOT NULL DEFAULT 'free',
				token_balance INTEGER NOT NULL DEFAULT 0 CHECK (token_balance >= 0),
				total_tokens_purchased INTEGER NOT NULL DEFAULT 0,
				total_tokens_used INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,

			// Generations - image generation jobs
			`CREATE TABLE IF NOT EXISTS generations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				model TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				params_json TEXT NOT NULL,
				cost_tokens INTEGER NOT NULL DEFAULT 0,
				tokens_used INTEGER NOT NULL DEFAULT 0,
				external_id TEXT,
				output_keys_json TEXT,
				error_message TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_generations_user_id ON generations(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_generations_status ON generations(status)`,
			`CREATE INDEX IF NOT EXISTS idx_generations_created_at ON generations(created_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_generations_external_id ON generations(external_id) WHERE external_id IS NOT NULL`,

			// Usage events - append-only activity log
			`CREATE TABLE IF NOT EXISTS usage_events (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				action TEXT NOT NULL,
				model TEXT,
				generation_id TEXT REFERENCES generations(id) ON DELETE SET NULL,
				tokens_used INTEGER NOT NULL DEFAULT 0,
				metadata_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_events_user ON usage_events(user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_events_action_date ON usage_events(action, created_at)`,

			// Token purchases - audit trail for every balance credit
			`CREATE TABLE IF NOT EXISTS token_purchases (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				type TEXT NOT NULL,
				tokens INTEGER NOT NULL,
				amount_usd REAL NOT NULL DEFAULT 0,
				balance_after INTEGER NOT NULL,
				stripe_payment_id TEXT UNIQUE,
				description TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_token_purchases_user ON token_purchases(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_token_purchases_stripe ON token_purchases(stripe_payment_id)`,

			// File metadata - S3 objects (uploaded sources and generated outputs)
			`CREATE TABLE IF NOT EXISTS file_metadata (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				generation_id TEXT REFERENCES generations(id) ON DELETE SET NULL,
				object_key TEXT UNIQUE NOT NULL,
				file_name TEXT NOT NULL,
				content_type TEXT NOT NULL,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				purpose TEXT NOT NULL DEFAULT 'output',
				created_at TEXT NOT NULL,
				deleted_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_file_metadata_user ON file_metadata(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_file_metadata_generation ON file_metadata(generation_id)`,
		},
	})
}
