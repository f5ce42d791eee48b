// Package pagination scans every page of a CRM module listing (or search)
// through parallel lanes that share one dispatcher budget.
//
// The remote API reports only whether more records follow a page, never the
// total page count, so pages cannot be enumerated up front. Instead a scan
// starts Lanes cursors at consecutive pages and each lane advances by Lanes
// pages after every data-bearing response, so lanes interleave without
// overlapping:
//
//	lane 0: 1, 4, 7, ...
//	lane 1: 2, 5, 8, ...
//	lane 2: 3, 6, 9, ...
//
// The first lane to hit an empty page lowers a shared LowWaterMark. Sibling
// lanes whose next page is at or above the mark stop without a network call.
//
// Example usage:
//
//	scanner := pagination.New(dispatcher)
//	res, err := scanner.Scan(ctx, "Leads", pagination.Options{Lanes: 3}, func(p pagination.PageResult) {
//		fmt.Printf("lane %d page %d: %d records\n", p.Lane, p.Page, len(p.Records))
//	})
//
// The scan resolves once the number of completed page events equals the
// number of expected ones; the expected count grows by one for every page
// that reports more records.
package pagination
