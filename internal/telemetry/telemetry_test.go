package telemetry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAssignsIDWhenUnset(t *testing.T) {
	r := NewRecorder(4)
	r.Record(RunRecord{Hash: "a"})

	recent := r.Recent()
	require.Len(t, recent, 1)
	assert.NotEqual(t, uuid.Nil, recent[0].ID)
}

func TestRecentReturnsOldestFirstBeforeWrap(t *testing.T) {
	r := NewRecorder(4)
	r.Record(RunRecord{Hash: "a"})
	r.Record(RunRecord{Hash: "b"})

	recent := r.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "a", recent[0].Hash)
	assert.Equal(t, "b", recent[1].Hash)
}

func TestRecentEvictsOldestOnWrap(t *testing.T) {
	r := NewRecorder(2)
	r.Record(RunRecord{Hash: "a"})
	r.Record(RunRecord{Hash: "b"})
	r.Record(RunRecord{Hash: "c"})

	recent := r.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Hash)
	assert.Equal(t, "c", recent[1].Hash)
}

func TestNilRecorderRecordAndRecentAreNoops(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.Record(RunRecord{Hash: "x"}) })
	assert.Nil(t, r.Recent())
}

func TestCapacityLessThanOneClampsToOne(t *testing.T) {
	r := NewRecorder(0)
	r.Record(RunRecord{Hash: "a"})
	r.Record(RunRecord{Hash: "b"})

	recent := r.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "b", recent[0].Hash)
}
