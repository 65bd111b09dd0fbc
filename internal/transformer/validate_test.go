package transformer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnValidatorInfersFromFirstRecord(t *testing.T) {
	t.Parallel()

	var log bytes.Buffer
	v := NewColumnValidator(0, &log)

	assert.True(t, v.Check(1, []byte("1,2,3"), 3))
	assert.False(t, v.Check(2, []byte("1,2"), 2))
	assert.True(t, v.Check(3, []byte("4,5,6"), 3))

	assert.Equal(t, 3, v.Expected())
	assert.True(t, v.Inferred())
	assert.Equal(t, ValidatorStats{Processed: 3, Accepted: 2, Rejected: 1}, v.Stats())
	assert.Equal(t, "Line 2: Expected 3 columns, found 2\n  Data preview: 1,2\n\n", log.String())
	assert.Equal(t, log.String(), v.FirstReject())
	assert.Equal(t, "columns=3 (inferred) processed=3 accepted=2 rejected=1", v.Summary())
	require.NoError(t, v.Err())
}

func TestColumnValidatorNoData(t *testing.T) {
	t.Parallel()

	v := NewColumnValidator(4, nil)
	assert.Equal(t, NoDataRows, v.Summary())
	assert.Equal(t, 4, v.Expected())
	assert.False(t, v.Inferred())
	assert.Empty(t, v.FirstReject())
}

func TestRejectEntryPreviewIsBounded(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Repeat("x", 250))
	entry := RejectEntry(9, 2, 5, raw)

	want := "Line 9: Expected 2 columns, found 5\n  Data preview: " + strings.Repeat("x", RejectPreviewLen) + "...\n\n"
	assert.Equal(t, want, entry)
}

/*
Every record is either accepted or rejected, never both, whatever mix of
counts is fed in.
*/
func TestColumnValidatorAccounting(t *testing.T) {
	t.Parallel()

	v := NewColumnValidator(2, nil)
	counts := []int{2, 0, 2, 3, 1, 2, 2, 7}
	for i, n := range counts {
		v.Check(i+1, nil, n)
	}
	v.Reject(len(counts)+1, nil, assert.AnError)

	st := v.Stats()
	assert.Equal(t, int64(len(counts)+1), st.Processed)
	assert.Equal(t, st.Processed, st.Accepted+st.Rejected)
	assert.Equal(t, int64(4), st.Accepted)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestColumnValidatorLogError(t *testing.T) {
	t.Parallel()

	v := NewColumnValidator(1, failWriter{})
	v.Check(1, nil, 2)
	v.Check(2, nil, 3)
	require.ErrorIs(t, v.Err(), assert.AnError)
	assert.Equal(t, int64(2), v.Stats().Rejected)
}
