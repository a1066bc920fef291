package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250518-120433",
		Description: "Admin-managed provider credentials",
		Up: []string{
			// API tokens for the image generation provider, encrypted at rest
			`CREATE TABLE IF NOT EXISTS provider_credentials (
				id TEXT PRIMARY KEY,
				provider TEXT UNIQUE NOT NULL,
				api_token_encrypted TEXT NOT NULL,
				is_enabled INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	})
}
