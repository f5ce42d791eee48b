// Package criteria validates search criteria expressions and compiles
// per-record templates into search chunks that respect the remote limit on
// groups per expression.
//
// A criteria expression is a sequence of groups (FIELD:OPERATOR:VALUE) joined
// by and/or, e.g. (Email:equals:a@b.c)or(Phone:starts_with:555).
package criteria

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Sternrassler/crm-bulk-client/internal/chunks"
	"github.com/Sternrassler/crm-bulk-client/pkg/api"
)

// MaxGroups is the most groups the remote accepts in one expression.
const MaxGroups = 10

var (
	// ErrNoGroups is returned for an expression without any (FIELD:OPERATOR:VALUE) group.
	ErrNoGroups = fmt.Errorf("%w: criteria has no (field:operator:value) group", api.ErrValidation)

	// ErrTooManyGroups is returned for an expression with more than MaxGroups groups.
	ErrTooManyGroups = fmt.Errorf("%w: criteria exceeds %d groups", api.ErrValidation, MaxGroups)
)

var (
	groupPattern       = regexp.MustCompile(`(?i)\(([A-Z0-9_.\-:@$ ]+):([A-Z0-9_.\-:@$ ]+):([A-Z0-9_.\-:@$ ]+)\)`)
	placeholderPattern = regexp.MustCompile(`\$(\w+)`)
)

// Plan is a list of search chunks, each a list of resolved expressions.
type Plan [][]string

// Expressions returns every expression of the plan in order.
func (p Plan) Expressions() []string {
	var out []string
	for _, chunk := range p {
		out = append(out, chunk...)
	}
	return out
}

// Validate counts the groups of expr and rejects expressions with none or
// more than MaxGroups.
func Validate(expr string) (int, error) {
	n := len(groupPattern.FindAllStringIndex(expr, -1))
	switch {
	case n == 0:
		return 0, ErrNoGroups
	case n > MaxGroups:
		return n, fmt.Errorf("%w (found %d)", ErrTooManyGroups, n)
	}
	return n, nil
}

// Compiler turns a template and a record set into a Plan.
type Compiler struct {
	// PoolSize is the dispatcher pool size. Small inputs are chunked by it
	// so every worker gets a share.
	PoolSize int
}

// Compile resolves template once per record and groups the results so that
// no chunk, once joined, exceeds MaxGroups groups.
//
// Placeholders are $name or $_name and resolve to the record's name field.
// A placeholder without a matching field is left as is. Field values may
// add groups, so every resolved expression is validated and chunks are sized
// by the largest one.
func (c Compiler) Compile(records []api.Record, template string) (Plan, error) {
	groups, err := Validate(template)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	exprs := make([]string, len(records))
	for i, rec := range records {
		exprs[i] = Substitute(template, rec)
		n, err := Validate(exprs[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		groups = max(groups, n)
	}

	return chunks.Split(exprs, c.chunkSize(len(records), groups)), nil
}

func (c Compiler) chunkSize(records, groups int) int {
	if records*groups < MaxGroups {
		if c.PoolSize > 1 && c.PoolSize < MaxGroups {
			return c.PoolSize
		}
		return MaxGroups
	}
	return MaxGroups / groups
}

// Substitute replaces the placeholders of template with fields of rec.
func Substitute(template string, rec api.Record) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1:]
		if v, ok := rec[name]; ok {
			return api.FormatValue(v)
		}
		if trimmed := strings.TrimPrefix(name, "_"); trimmed != name {
			if v, ok := rec[trimmed]; ok {
				return api.FormatValue(v)
			}
		}
		return token
	})
}

// Join combines expressions into one expression matching any of them.
func Join(exprs []string) string {
	switch len(exprs) {
	case 0:
		return ""
	case 1:
		return exprs[0]
	}

	var b strings.Builder
	b.WriteByte('(')
	for i, e := range exprs {
		if i > 0 {
			b.WriteString("or")
		}
		b.WriteByte('(')
		b.WriteString(e)
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}
