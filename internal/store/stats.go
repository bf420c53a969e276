package store

// Stats contains aggregate database statistics.
type Stats struct {
	Runs               int
	Judgments          int
	Recipes            int
	TitlesToImprove    int
	OverriddenItems    int
	CorrectionsApplied int
	CorrectionsSkipped int
	LastRunID          string
	LastRunState       string
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats

	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM judgments", &s.Judgments},
		{"SELECT COUNT(*) FROM judgments WHERE is_recipe = 1", &s.Recipes},
		{"SELECT COUNT(*) FROM judgments WHERE title_needs_improvement = 1", &s.TitlesToImprove},
		{"SELECT COUNT(*) FROM judgments WHERE overrides IS NOT NULL", &s.OverriddenItems},
		{"SELECT COUNT(*) FROM corrections WHERE outcome = 'applied'", &s.CorrectionsApplied},
		{"SELECT COUNT(*) FROM corrections WHERE outcome != 'applied'", &s.CorrectionsSkipped},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var id, state *string
	err := db.conn.QueryRow("SELECT id, state FROM runs ORDER BY started_at DESC LIMIT 1").Scan(&id, &state)
	if err == nil {
		s.LastRunID = deref(id)
		s.LastRunState = deref(state)
	}

	return &s, nil
}
