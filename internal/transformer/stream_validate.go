package transformer

import "context"

// ValidateLoopRows runs v over pooled rows from in. Rows whose field count
// matches are forwarded to accepted; mismatched rows and rows carrying a
// parse error (r.Err) go to onReject, which owns them and must Free them.
//
// No hangs: it does not return on ctx cancellation. After cancellation it
// keeps draining in and frees every row so upstream producers never block.
//
// The caller closes accepted after this function returns.
func ValidateLoopRows(
	ctx context.Context,
	v *ColumnValidator,
	in <-chan *Row,
	accepted chan<- *Row,
	onReject func(r *Row),
) {
	reject := func(r *Row) {
		if onReject != nil {
			onReject(r)
			return
		}
		r.Free()
	}

	for r := range in {
		if r == nil {
			continue
		}
		if ctx.Err() != nil {
			r.Free()
			continue
		}
		if r.Err != nil {
			v.Reject(r.Line, r.Raw, r.Err)
			reject(r)
			continue
		}
		if !v.CheckRow(r.Line, r.Raw, r.V) {
			reject(r)
			continue
		}
		select {
		case accepted <- r:
		case <-ctx.Done():
			r.Free()
		}
	}
}
