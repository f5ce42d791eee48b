package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response is the raw result of one remote call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Info is the paging block of a list response.
type Info struct {
	MoreRecords bool `json:"more_records"`
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
	Count       int  `json:"count"`
}

// ListBody is the document returned by lookup, list and search calls.
type ListBody struct {
	Data []json.RawMessage `json:"data"`
	Info Info              `json:"info"`
}

// WriteStatus is the per-record element of a write response.
type WriteStatus struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// WriteBody is the document returned by update calls.
type WriteBody struct {
	Data []json.RawMessage `json:"data"`
}

// StatusSuccess is the per-record write status for an accepted record.
const StatusSuccess = "success"

// DecodeList parses a list response body.
func DecodeList(body []byte) (*ListBody, error) {
	var out ListBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode list body: %w", err)
	}
	return &out, nil
}

// DecodeWrite parses a write response body.
func DecodeWrite(body []byte) (*WriteBody, error) {
	var out WriteBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode write body: %w", err)
	}
	return &out, nil
}

// DecodeRecord parses one raw record, keeping numbers as json.Number so
// large ids survive unchanged.
func DecodeRecord(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// DecodeWriteStatus parses one element of a write response.
func DecodeWriteStatus(raw json.RawMessage) (WriteStatus, error) {
	var st WriteStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode write status: %w", err)
	}
	return st, nil
}
