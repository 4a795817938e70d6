package storage

import (
	"strconv"
	"strings"
)

// rebind converts '?' placeholders to the driver's native form. Queries are
// written with '?' and converted for pgx at execution time.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	return rebindToPostgres(query)
}

func rebindToPostgres(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '?' {
			b.WriteByte(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
