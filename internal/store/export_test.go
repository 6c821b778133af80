package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJournal(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.AddIdentityAxis(ctx, IdentityAxis{ID: "ax1", Label: "Stillness"}))

	r1 := testReflection("r1")
	r1.IdentityAxisID = "ax1"
	r1.Tags = []string{"evening"}
	require.NoError(t, s.AddReflection(ctx, r1))

	r2 := testReflection("r2")
	r2.Layer = LayerCommons
	require.NoError(t, s.AddReflection(ctx, r2))

	require.NoError(t, s.AddThread(ctx, Thread{ID: "t1", Title: "Quiet evenings", MemberIDs: []string{"r1"}}))
	require.NoError(t, s.AppendConsent(ctx, ConsentRecord{ID: "c1", Kind: ConsentLicense, Accepted: true}))

	u := DefaultSettings()
	u.Theme = "dark"
	require.NoError(t, s.PutSettings(ctx, u))
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	seedJournal(t, src)

	snap, err := src.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Reflections, 2)
	require.Len(t, snap.Threads, 1)
	require.NotNil(t, snap.Settings)

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, decoded); diff != "" {
		t.Fatalf("snapshot changed across encode/decode (-want +got):\n%s", diff)
	}

	dst := newTestStore(t)
	outcomes, err := dst.ImportAll(ctx, decoded)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, ImportAdded, o.Status, "%s/%s: %s", o.Collection, o.ID, o.Err)
	}

	restored, err := dst.ExportAll(ctx)
	require.NoError(t, err)
	ignoreClock := cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".ExportedAt"
	}, cmp.Ignore())
	if diff := cmp.Diff(snap, restored, ignoreClock); diff != "" {
		t.Fatalf("round trip lost data (-want +got):\n%s", diff)
	}

	// Thread membership restored from the thread side.
	r1, err := dst.GetReflection(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "t1", r1.ThreadID)
}

func TestImportIdempotent(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	seedJournal(t, src)

	snap, err := src.ExportAll(ctx)
	require.NoError(t, err)

	dst := newTestStore(t)
	_, err = dst.ImportAll(ctx, snap)
	require.NoError(t, err)

	// Second import of the same snapshot changes nothing.
	outcomes, err := dst.ImportAll(ctx, snap)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, ImportSkipped, o.Status, "%s/%s", o.Collection, o.ID)
	}

	stats, err := dst.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Reflections)
	assert.Equal(t, int64(1), stats.Threads)
	assert.Equal(t, int64(1), stats.ConsentRecords)
}

func TestImportSkipsBadRecordsAndContinues(t *testing.T) {
	ctx := context.Background()
	dst := newTestStore(t)

	bad := testReflection("bad")
	bad.Content = ""
	snap := &Snapshot{
		Version:     SnapshotVersion,
		Reflections: []Reflection{bad, testReflection("good")},
	}
	outcomes, err := dst.ImportAll(ctx, snap)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, ImportFailed, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].Err)
	assert.Equal(t, ImportAdded, outcomes[1].Status)
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	dst := newTestStore(t)
	_, err := dst.ImportAll(context.Background(), &Snapshot{Version: 99})
	require.Error(t, err)
}

func TestImportDoesNotClobberLocalSettings(t *testing.T) {
	ctx := context.Background()
	dst := newTestStore(t)

	local := DefaultSettings()
	local.Theme = "dark"
	require.NoError(t, dst.PutSettings(ctx, local))

	remote := DefaultSettings()
	remote.Theme = "light"
	_, err := dst.ImportAll(ctx, &Snapshot{Version: SnapshotVersion, Settings: &remote})
	require.NoError(t, err)

	got, err := dst.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"version":1,"surprise":[]}`))
	require.Error(t, err)

	_, err = DecodeSnapshot([]byte(`{"reflections":[]}`))
	require.Error(t, err)
}

func TestSnapshotGolden(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	snap := &Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: at,
		Reflections: []Reflection{{
			ID:        "r1",
			Content:   "wrote by the window",
			Layer:     LayerSovereign,
			Modality:  "text",
			ThreadID:  "t1",
			Tags:      []string{"morning"},
			Visible:   true,
			Rev:       1,
			CreatedAt: at,
			UpdatedAt: at,
		}},
		Threads: []Thread{{
			ID:        "t1",
			Title:     "Window mornings",
			MemberIDs: []string{"r1"},
			CreatedAt: at,
			UpdatedAt: at,
		}},
		IdentityAxes: []IdentityAxis{{
			ID:        "ax1",
			Label:     "Attention",
			Value:     "wandering",
			CreatedAt: at,
			UpdatedAt: at,
		}},
		ConsentRecords: []ConsentRecord{{
			ID:        "c1",
			Kind:      ConsentLicense,
			Accepted:  true,
			Timestamp: at,
		}},
	}

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "snapshot", data)
}
