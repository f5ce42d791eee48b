package api

import (
	"net/http"
	"net/url"
)

// API methods and request methods understood by the transport.
const (
	MethodModules = "MODULES"

	RequestGet    = "get"
	RequestPut    = "put"
	RequestSearch = "search"
)

// Payload is the request data carried by one dispatcher job. The concrete
// variant decides how the response is classified.
type Payload interface {
	// Module returns the CRM module the request targets.
	Module() string
}

// LookupPayload asks for a set of records by id.
type LookupPayload struct {
	ModuleName string
	IDs        []string
	Params     url.Values
}

// Module implements Payload.
func (p LookupPayload) Module() string { return p.ModuleName }

// PagePayload asks for one page of a module listing, or of a criteria search
// when Criteria is set.
type PagePayload struct {
	ModuleName string
	Page       int
	PerPage    int
	Headers    http.Header
	Criteria   string
}

// Module implements Payload.
func (p PagePayload) Module() string { return p.ModuleName }

// UpdatePayload carries records to write back.
type UpdatePayload struct {
	ModuleName string
	Records    []Record
}

// Module implements Payload.
func (p UpdatePayload) Module() string { return p.ModuleName }
