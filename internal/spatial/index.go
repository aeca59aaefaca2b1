// Package spatial provides the two interchangeable envelope indexes used for
// source and triangle range queries.
package spatial

import "github.com/noisemap/noisemap/internal/geo"

// Index stores integer ids by envelope. Query returns every id whose stored
// envelope intersects the query region, sorted ascending and without
// duplicates. Callers filter false positives with an exact test.
type Index interface {
	Insert(env geo.Envelope, id int)
	Query(env geo.Envelope) []int
	Len() int
}
