package batch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/dispatcher"
)

var errEmptyResponse = errors.New("executor returned no response")

// classify turns one dispatcher result into per-record outcomes according to
// the payload variant that produced it.
func classify(index int, payload api.Payload, res dispatcher.Result) ChunkResult {
	chunk := ChunkResult{Index: index, Payload: payload}
	if res.Err == nil && res.Response == nil {
		res.Err = errEmptyResponse
	}

	switch p := payload.(type) {
	case api.LookupPayload:
		classifyLookup(&chunk, p, res)
	case api.UpdatePayload:
		classifyUpdate(&chunk, p, res)
	default:
		chunk.Err = api.Validationf("unsupported batch payload %T", payload)
	}
	return chunk
}

func classifyLookup(chunk *ChunkResult, p api.LookupPayload, res dispatcher.Result) {
	failIDs := func(err error) {
		chunk.Err = err
		for _, id := range p.IDs {
			chunk.Fail = append(chunk.Fail, api.Outcome{Module: p.ModuleName, ID: id, Payload: p})
		}
	}

	if res.Err != nil {
		failIDs(res.Err)
		return
	}

	switch res.Response.StatusCode {
	case http.StatusOK:
		body, err := api.DecodeList(res.Response.Body)
		if err != nil {
			failIDs(err)
			return
		}

		// Each requested id consumes one returned record; unrequested records
		// are ignored so that success plus fail equals the input size.
		found := make(map[string][]json.RawMessage, len(body.Data))
		for _, raw := range body.Data {
			rec, err := api.DecodeRecord(raw)
			if err != nil {
				continue
			}
			id := rec.ID()
			found[id] = append(found[id], raw)
		}

		for _, id := range p.IDs {
			matches := found[id]
			if len(matches) == 0 {
				chunk.Fail = append(chunk.Fail, api.Outcome{Module: p.ModuleName, ID: id, Payload: p})
				continue
			}
			found[id] = matches[1:]
			chunk.Success = append(chunk.Success, api.Outcome{
				Module:   p.ModuleName,
				ID:       id,
				Payload:  p,
				Response: matches[0],
			})
		}

	case http.StatusNoContent:
		failIDs(nil)

	default:
		failIDs(remoteError(p.ModuleName, res.Response))
	}
}

func classifyUpdate(chunk *ChunkResult, p api.UpdatePayload, res dispatcher.Result) {
	outcome := func(rec api.Record, raw json.RawMessage) api.Outcome {
		return api.Outcome{
			Module:   p.ModuleName,
			ID:       rec.ID(),
			Payload:  api.UpdatePayload{ModuleName: p.ModuleName, Records: []api.Record{rec}},
			Response: raw,
		}
	}
	failRecords := func(err error) {
		chunk.Err = err
		for _, rec := range p.Records {
			chunk.Fail = append(chunk.Fail, outcome(rec, nil))
		}
	}

	if res.Err != nil {
		failRecords(res.Err)
		return
	}

	switch res.Response.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		body, err := api.DecodeWrite(res.Response.Body)
		if err != nil {
			failRecords(err)
			return
		}

		// Statuses are positional; records without one count as failed.
		for i, rec := range p.Records {
			if i >= len(body.Data) {
				chunk.Fail = append(chunk.Fail, outcome(rec, nil))
				continue
			}
			raw := body.Data[i]
			st, err := api.DecodeWriteStatus(raw)
			if err == nil && st.Status == api.StatusSuccess {
				chunk.Success = append(chunk.Success, outcome(rec, raw))
			} else {
				chunk.Fail = append(chunk.Fail, outcome(rec, raw))
			}
		}

	default:
		failRecords(remoteError(p.ModuleName, res.Response))
	}
}

func remoteError(module string, resp *api.Response) error {
	return &api.RemoteError{
		Module:     module,
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
	}
}
