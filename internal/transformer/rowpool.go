package transformer

import "sync"

// Row is a pooled, header-aligned raw record: V[f] holds the source value for
// Field f, or nil when the source has no such column or the cell is empty.
//
// Exactly one goroutine owns a Row at a time. Ownership moves with the channel
// send from parser to ingestion. The consumer calls Free once it no longer
// reads V. Cancellation paths call Drop instead: a canceled Row may still be
// visible to a draining stage, so it must not be reused.
type Row struct {
	V    [NumFields]any
	Line int // 1-based record number in the source
}

var rowPool = sync.Pool{New: func() any { return new(Row) }}

// GetRow returns a zeroed Row from the pool.
func GetRow() *Row {
	r := rowPool.Get().(*Row)
	r.V = [NumFields]any{}
	r.Line = 0
	return r
}

// Free returns r to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop releases r's values without re-pooling it.
func (r *Row) Drop() {
	r.V = [NumFields]any{}
	r.Line = 0
}

// String returns the value of f as a string. Non-string scalars from JSON
// sources are formatted; nil is "".
func (r *Row) String(f Field) string {
	return asString(r.V[f])
}
