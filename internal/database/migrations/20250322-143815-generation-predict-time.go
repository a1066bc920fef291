package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250322-143815",
		Description: "Record provider-reported predict time on generations",
		Up: []string{
			`ALTER TABLE generations ADD COLUMN predict_time REAL NOT NULL DEFAULT 0`,
		},
	})
}
