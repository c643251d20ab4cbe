package testutil

import (
	"fmt"

	"github.com/Sternrassler/scrollfeed/pkg/record"
)

// Records returns n records with IDs 1..n.
func Records(n int) []record.Record {
	records := make([]record.Record, n)
	for i := range records {
		id := i + 1
		records[i] = record.Record{
			ID:    id,
			Title: fmt.Sprintf("title %d", id),
			Body:  fmt.Sprintf("body %d", id),
		}
	}
	return records
}

// IDs returns the IDs of the records in order.
func IDs(records []record.Record) []int {
	ids := make([]int, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
