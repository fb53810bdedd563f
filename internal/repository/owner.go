package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// OwnerRows performs hook-bypassing persistence on owner entity rows. It is
// the rollback side of the entity-persistence boundary: a direct row delete
// and a quiet attribute restore, neither of which fires entity lifecycle
// hooks (which would re-trigger upload cleanup).
type OwnerRows struct {
	db *sqlx.DB
}

func NewOwnerRows(db *sqlx.DB) *OwnerRows {
	return &OwnerRows{db: db}
}

// DeleteQuietly removes the owner's row outright. Table and key column names
// come from owner type declarations in code, never from request input.
func (o *OwnerRows) DeleteQuietly(ctx context.Context, table, keyColumn, key string) error {
	query := o.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, keyColumn))

	_, err := o.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s row %s: %w", table, key, err)
	}
	return nil
}

// Restore writes the given attribute values back onto the owner's row.
func (o *OwnerRows) Restore(ctx context.Context, table, keyColumn, key string, attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}

	columns := make([]string, 0, len(attrs))
	for column := range attrs {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)
	for _, column := range columns {
		sets = append(sets, column+" = ?")
		args = append(args, attrs[column])
	}
	args = append(args, key)

	query := o.db.Rebind(fmt.Sprintf(`UPDATE %s SET %s WHERE %s = ?`, table, strings.Join(sets, ", "), keyColumn))

	_, err := o.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to restore %s row %s: %w", table, key, err)
	}
	return nil
}
