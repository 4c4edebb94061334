package postgres

import (
	"fmt"
	"strings"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// buildUpdateClause builds the SET clause of a versioned update starting from $1.
func buildUpdateClause(rec *storage.Record) (string, []interface{}) {
	return buildUpdateClauseWithOffset(rec, 1)
}

// buildUpdateClauseWithOffset builds the SET clause starting from a specific parameter index.
func buildUpdateClauseWithOffset(rec *storage.Record, startIndex int) (string, []interface{}) {
	assignments := []string{"version = version + 1"}
	args := []interface{}{}
	argIndex := startIndex

	assignments = append(assignments, fmt.Sprintf("data = $%d", argIndex))
	args = append(args, string(rec.Data))
	argIndex++

	assignments = append(assignments, fmt.Sprintf("updated_at = $%d", argIndex))
	args = append(args, rec.UpdatedAt)
	argIndex++

	if rec.ID != 0 {
		assignments = append(assignments, fmt.Sprintf("id = $%d", argIndex))
		args = append(args, rec.ID)
	}

	return "SET " + strings.Join(assignments, ", "), args
}
