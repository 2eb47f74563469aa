package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

// pageClause renders the WHERE and ORDER/LIMIT/OFFSET parts of a list query
// over a timestamp column. Results are ordered newest first.
func pageClause(opts domain.ListOpts, column string) (where, tail string, args []any) {
	var conds []string
	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, " ORDER BY %s DESC", column)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return where, b.String(), args
}
