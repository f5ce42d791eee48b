// Package batch implements chunked bulk lookup and bulk update.
//
// A call partitions its input into contiguous chunks no larger than the
// endpoint's per-request maximum, submits one dispatcher job per chunk, and
// fans the responses back in as they arrive:
//
//	orch := batch.New(d)
//	res, err := orch.Lookup(ctx, "Leads", ids, batch.LookupOptions{}, func(c batch.ChunkResult) {
//		log.Printf("chunk %d: %d ok, %d failed", c.Index, len(c.Success), len(c.Fail))
//	})
//
// Every input item ends up in exactly one of Result.Success or Result.Fail.
// A rejected chunk marks its own items as failed and reports the rejection on
// ChunkResult.Err and Result.Errors; sibling chunks are unaffected.
package batch
