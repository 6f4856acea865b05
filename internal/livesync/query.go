package livesync

import (
	"fmt"
	"strings"

	"idm-connector/internal/entity"
	"idm-connector/internal/token"
)

// changeQuery selects the rows of d modified strictly after since, with the
// membership relation folded into one aggregated column. A row modified at
// exactly the checkpoint instant was delivered by the pass that produced the
// checkpoint, so the boundary is exclusive.
func changeQuery(d *entity.Descriptor, since token.Marker) (string, []any) {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = "e." + c
	}
	group := strings.Join(cols, ", ")

	var (
		where string
		args  []any
	)
	if !since.Beginning {
		where = fmt.Sprintf("WHERE e.%s > ? ", d.ModifiedColumn)
		args = append(args, since.Time.UTC())
	}

	query := fmt.Sprintf(
		"SELECT %[1]s, GROUP_CONCAT(DISTINCT m.%[2]s) AS %[3]s "+
			"FROM %[4]s e "+
			"LEFT JOIN %[5]s m ON m.%[6]s = e.%[7]s "+
			"%[8]s"+
			"GROUP BY %[1]s "+
			"ORDER BY e.%[9]s, e.%[7]s",
		group, d.RelatedColumn, d.MultiValued,
		d.Table,
		entity.MembershipTable, d.MemberColumn, d.IDColumn,
		where,
		d.ModifiedColumn,
	)
	return query, args
}

// latestQuery selects the table's high-water mark.
func latestQuery(d *entity.Descriptor) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", d.ModifiedColumn, d.Table)
}
