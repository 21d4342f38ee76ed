package powerbi

import "github.com/Brandon-orbit/PSA-daisy/internal/models"

// Normalize extracts the first table of the first result as a RowSet.
// It returns nil when there is nothing to persist: no envelope, no results,
// no tables, or a first table without rows. Additional tables are ignored.
func Normalize(res *models.QueryResult) *models.RowSet {
	if res == nil || len(res.Results) == 0 {
		return nil
	}
	tables := res.Results[0].Tables
	if len(tables) == 0 || len(tables[0].Rows) == 0 {
		return nil
	}
	rows := make([]models.Row, len(tables[0].Rows))
	copy(rows, tables[0].Rows)
	return models.NewRowSet(rows)
}
