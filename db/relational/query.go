package relational

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Row is one result row keyed by column name.
type Row map[string]any

// QuerySpec describes a structured SELECT. Where lists column names and
// Values their bind values, one per column.
type QuerySpec struct {
	Select []string
	From   string
	Joins  []string
	Where  []string
	Values []any
	// Like switches the WHERE comparisons from equality to LIKE.
	Like    bool
	OrderBy string
	Limit   int
}

// Query runs a structured SELECT and returns the matching rows.
func (s *Store) Query(ctx context.Context, spec QuerySpec) ([]Row, error) {
	if spec.From == "" {
		return nil, fmt.Errorf("%w: query needs a FROM table", ErrInvalidInput)
	}
	if len(spec.Where) != len(spec.Values) {
		return nil, fmt.Errorf("%w: %d WHERE columns but %d values",
			ErrInvalidInput, len(spec.Where), len(spec.Values))
	}

	table, err := s.tableRef(spec.From)
	if err != nil {
		return nil, err
	}

	columns := "*"
	if len(spec.Select) > 0 {
		quoted := make([]string, len(spec.Select))
		for i, col := range spec.Select {
			if err := validIdent(col); err != nil {
				return nil, err
			}
			quoted[i] = s.quoteIdent(col)
		}
		columns = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columns, table)
	for _, join := range spec.Joins {
		b.WriteString(" ")
		b.WriteString(join)
	}

	if len(spec.Where) > 0 {
		comparator := "="
		if spec.Like {
			comparator = "LIKE"
		}
		conditions := make([]string, len(spec.Where))
		for i, col := range spec.Where {
			if err := validIdent(col); err != nil {
				return nil, err
			}
			conditions[i] = fmt.Sprintf("%s %s %s", s.quoteIdent(col), comparator, s.placeholder(i+1))
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}

	if spec.OrderBy != "" {
		if err := validIdent(spec.OrderBy); err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, " ORDER BY %s", s.quoteIdent(spec.OrderBy))
	}
	if spec.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", spec.Limit)
	}

	return s.Raw(ctx, b.String(), spec.Values...)
}

// Raw runs an arbitrary SELECT and scans the result into rows.
func (s *Store) Raw(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("relational: query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Insert adds one row built from column/value pairs. Columns are ordered
// deterministically.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: insert needs at least one column", ErrInvalidInput)
	}

	ref, err := s.tableRef(table)
	if err != nil {
		return err
	}

	columns := sortedKeys(values)
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		if err := validIdent(col); err != nil {
			return err
		}
		quoted[i] = s.quoteIdent(col)
		placeholders[i] = s.placeholder(i + 1)
		args[i] = values[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ref, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("relational: insert into %s: %w", table, err)
	}
	return nil
}

// Update sets columns on the rows matching the where conditions. An
// empty where map is refused.
func (s *Store) Update(ctx context.Context, table string, set, where map[string]any) (int64, error) {
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: update needs at least one column", ErrInvalidInput)
	}
	if len(where) == 0 {
		return 0, ErrEmptyWhere
	}

	ref, err := s.tableRef(table)
	if err != nil {
		return 0, err
	}

	var args []any
	assignments := make([]string, 0, len(set))
	for _, col := range sortedKeys(set) {
		if err := validIdent(col); err != nil {
			return 0, err
		}
		args = append(args, set[col])
		assignments = append(assignments, fmt.Sprintf("%s = %s", s.quoteIdent(col), s.placeholder(len(args))))
	}

	conditions := make([]string, 0, len(where))
	for _, col := range sortedKeys(where) {
		if err := validIdent(col); err != nil {
			return 0, err
		}
		args = append(args, where[col])
		conditions = append(conditions, fmt.Sprintf("%s = %s", s.quoteIdent(col), s.placeholder(len(args))))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		ref, strings.Join(assignments, ", "), strings.Join(conditions, " AND "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("relational: update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("relational: update %s rows affected: %w", table, err)
	}
	return affected, nil
}

// Delete removes the rows matching the where conditions. An empty where
// map is refused.
func (s *Store) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	if len(where) == 0 {
		return 0, ErrEmptyWhere
	}

	ref, err := s.tableRef(table)
	if err != nil {
		return 0, err
	}

	var args []any
	conditions := make([]string, 0, len(where))
	for _, col := range sortedKeys(where) {
		if err := validIdent(col); err != nil {
			return 0, err
		}
		args = append(args, where[col])
		conditions = append(conditions, fmt.Sprintf("%s = %s", s.quoteIdent(col), s.placeholder(len(args))))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", ref, strings.Join(conditions, " AND "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("relational: delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("relational: delete from %s rows affected: %w", table, err)
	}
	return affected, nil
}

// Exec runs an arbitrary statement that returns no rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("relational: exec: %w", err)
	}
	return nil
}

// scanRows converts a result set into generic rows. Byte slices are
// converted to strings since drivers return text columns as []byte.
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("relational: read columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("relational: scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relational: iterate rows: %w", err)
	}
	return result, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
