package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached CRM response.
type Key struct {
	// Module is the CRM module (e.g. "Leads").
	Module string

	// Kind separates endpoints of one module: "records" for listings and
	// lookups, "search" for criteria searches.
	Kind string

	// Query holds the request's query parameters.
	Query url.Values

	// Scope separates callers that must not share entries, e.g. different
	// organizations behind one Redis. Empty for a single tenant.
	Scope string
}

// DefaultKind is used when Key.Kind is empty.
const DefaultKind = "records"

// String generates a deterministic key.
// Format: crm:<module>:<kind>:q1=v1:q2=v2,v3:scope=<scope>
//
// Example:
//
//	crm:Leads:records:page=2:per_page=200
func (k Key) String() string {
	kind := k.Kind
	if kind == "" {
		kind = DefaultKind
	}
	parts := []string{"crm", k.Module, kind}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Query[name], ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}

// ModulePattern returns the Redis match pattern covering every key of module.
func ModulePattern(module string) string {
	return "crm:" + escapeGlob(module) + ":*"
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
