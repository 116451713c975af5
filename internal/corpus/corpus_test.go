package corpus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snap *Snapshot
	err  error
}

func (f *fakeSource) Compute(ctx context.Context) (*Snapshot, error) {
	return f.snap, f.err
}

func TestSnapshotIDFHigherForRarerTerm(t *testing.T) {
	snap := &Snapshot{
		TotalDocuments: 100,
		termDF:         map[string]int{"rare": 2, "common": 90},
	}
	assert.Greater(t, snap.IDF("rare"), snap.IDF("common"))
}

func TestSnapshotIDFUnseenTermIsZero(t *testing.T) {
	snap := &Snapshot{TotalDocuments: 10, termDF: map[string]int{}}
	assert.Equal(t, 0.0, snap.IDF("never-seen"))
}

func TestServiceRefreshSwapsSnapshotAtomically(t *testing.T) {
	want := &Snapshot{TotalDocuments: 5, termDF: map[string]int{"x": 1}, termCo: map[string]float64{}}
	svc := NewService(&fakeSource{snap: want}, time.Hour)

	svc.Start(context.Background())
	defer svc.Stop()

	got := svc.Snapshot()
	require.NotNil(t, got)
	assert.Equal(t, 5, got.TotalDocuments)
}

func TestServiceKeepsPriorSnapshotOnRefreshError(t *testing.T) {
	svc := NewService(&fakeSource{err: assertError{}}, time.Hour)
	before := svc.Snapshot()
	svc.refresh(context.Background())
	assert.Same(t, before, svc.Snapshot())
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
