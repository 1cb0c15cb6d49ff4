package repository

import "regexp"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTable overrides the table name. Names that are not plain lower-case
// identifiers are ignored.
func WithTable(name string) PostgresOption {
	return func(s *PostgresStore) {
		if tableName.MatchString(name) {
			s.table = name
		}
	}
}
