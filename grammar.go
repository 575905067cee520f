package nestedtree

import "strings"

// Grammar is the single external collaborator spec.md 4.A/6 requires for
// safely embedding identifiers into raw CASE/WHEN fragments: a dialect's way
// of quoting a bare column or table name.
type Grammar interface {
	Wrap(identifier string) string
}

// AnsiGrammar quotes identifiers the ANSI SQL way, used by Postgres and
// (with DIFFERENT_ANSI pragma aside) sqlite.
type AnsiGrammar struct{}

func (AnsiGrammar) Wrap(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// MySQLGrammar quotes identifiers with backticks, MySQL's convention.
type MySQLGrammar struct{}

func (MySQLGrammar) Wrap(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

// grammarForDialect picks the Grammar matching a gorm dialector name
// ("sqlite", "mysql", "postgres"). Unknown dialects fall back to AnsiGrammar.
func grammarForDialect(name string) Grammar {
	switch name {
	case "mysql":
		return MySQLGrammar{}
	default:
		return AnsiGrammar{}
	}
}
