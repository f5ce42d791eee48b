// Package api holds the wire types shared by the dispatcher, the orchestrators
// and the HTTP transport: records, request payloads, raw responses, per-record
// outcomes and the error taxonomy.
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is a single CRM record as a field name -> value map.
type Record map[string]any

// ID returns the record's "id" field rendered as a string.
// Returns "" when the record has no id.
func (r Record) ID() string {
	return FormatValue(r["id"])
}

// FormatValue renders a field value the way the remote expects it in ids and
// criteria. Floats are never printed in exponent form.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// Outcome is the classification of one logical record for a bulk call.
type Outcome struct {
	// Module is the CRM module the record belongs to.
	Module string `json:"module"`

	// ID is the record id (requested id for lookups, record id otherwise).
	ID string `json:"id"`

	// Payload is the request payload that produced this outcome.
	Payload Payload `json:"-"`

	// Response is the fragment of the remote response describing this record.
	// Empty when the remote returned nothing for it (not found, chunk failure).
	Response json.RawMessage `json:"response,omitempty"`
}

// Result accumulates outcomes across every chunk or page of one bulk call.
type Result struct {
	Success []Outcome `json:"success"`
	Fail    []Outcome `json:"fail"`

	// Errors holds the remote rejections and transport failures reported by
	// individual chunks or lanes. They never abort sibling work.
	Errors []error `json:"-"`
}

// Merge appends other's outcomes and errors to r.
func (r *Result) Merge(other Result) {
	r.Success = append(r.Success, other.Success...)
	r.Fail = append(r.Fail, other.Fail...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Total returns the number of outcomes accounted for.
func (r Result) Total() int {
	return len(r.Success) + len(r.Fail)
}
