package transformer

import (
	"sync"

	"dumpconv/internal/record"
)

// Row is a pooled record travelling between streaming stages. Producers fill
// Line, Raw and either V or Err; consumers call Free when done.
type Row struct {
	Line int
	Raw  []byte
	V    record.Row
	Err  error
}

var rowPool = sync.Pool{
	New: func() any {
		return &Row{Raw: make([]byte, 0, 256), V: make(record.Row, 0, 16)}
	},
}

// GetRow returns a cleared Row from the pool.
func GetRow() *Row {
	r := rowPool.Get().(*Row)
	r.Line = 0
	r.Raw = r.Raw[:0]
	r.V = r.V[:0]
	r.Err = nil
	return r
}

// Free returns r to the pool. r must not be used afterwards.
func (r *Row) Free() {
	if r == nil {
		return
	}
	// Very large buffers are dropped so one huge record does not pin memory.
	if cap(r.Raw) > 1<<20 {
		r.Raw = nil
	}
	rowPool.Put(r)
}
