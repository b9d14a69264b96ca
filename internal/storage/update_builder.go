package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/coin-tracker/internal/models"
)

// patchableColumns lists every column a patch may set, per table
var patchableColumns = map[string]map[string]bool{
	"portfolios":         columnSet(valuationColumns),
	"portfolio_holdings": columnSet(valuationColumns),
}

var valuationColumns = []string{
	"quote_value", "quote_value_ath", "quote_value_atl", "quote_value_invested",
	"pnl_percentage", "pnl_percentage_ath", "pnl_percentage_atl",
	"pnl_quote_value", "pnl_quote_value_ath", "pnl_quote_value_atl",
}

func columnSet(cols []string) map[string]bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set
}

// buildUpdate renders a single-row UPDATE that assigns the patch fields and updated_at.
// The row id is always the last argument.
func buildUpdate(table, id string, fields []models.PatchField, now time.Time) (string, []interface{}, error) {
	allowed, ok := patchableColumns[table]
	if !ok {
		return "", nil, fmt.Errorf("table %s does not accept patches", table)
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	seen := make(map[string]bool, len(fields))

	for _, f := range fields {
		if !allowed[f.Column] {
			return "", nil, fmt.Errorf("column %s is not patchable on %s", f.Column, table)
		}
		if seen[f.Column] {
			return "", nil, fmt.Errorf("column %s set twice", f.Column)
		}
		seen[f.Column] = true

		args = append(args, f.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Column, len(args)))
	}

	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(sets, ", "), len(args))
	return query, args, nil
}
