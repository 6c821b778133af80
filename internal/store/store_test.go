package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func testReflection(id string) Reflection {
	return Reflection{
		ID:       id,
		Content:  "today I noticed something small",
		Layer:    LayerSovereign,
		Modality: "text",
		Visible:  true,
	}
}

func TestReflectionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReflection("r1")
	r.Tags = []string{"morning", "gratitude"}
	r.Metadata = map[string]MetaValue{
		"mood":   MetaStr("calm"),
		"energy": MetaNum(0.7),
	}
	require.NoError(t, s.AddReflection(ctx, r))

	got, err := s.GetReflection(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r.Content, got.Content)
	assert.Equal(t, LayerSovereign, got.Layer)
	assert.Equal(t, []string{"morning", "gratitude"}, got.Tags)
	assert.Equal(t, MetaStr("calm"), got.Metadata["mood"])
	assert.Equal(t, int64(1), got.Rev)
	assert.False(t, got.CreatedAt.IsZero())

	got.Content = "today I noticed something larger"
	require.NoError(t, s.UpdateReflection(ctx, got))

	got2, err := s.GetReflection(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "today I noticed something larger", got2.Content)
	assert.Equal(t, int64(2), got2.Rev)
	assert.Equal(t, got.CreatedAt, got2.CreatedAt)

	require.NoError(t, s.DeleteReflection(ctx, "r1"))
	_, err = s.GetReflection(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddReflectionDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddReflection(ctx, testReflection("dup")))
	err := s.AddReflection(ctx, testReflection("dup"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Failed add must not shadow the original record.
	got, err := s.GetReflection(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Rev)
}

func TestValidationRejectsBeforeWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := testReflection("bad")
	bad.Content = ""
	err := s.AddReflection(ctx, bad)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	bad = testReflection("bad")
	bad.Layer = "whispered"
	err = s.AddReflection(ctx, bad)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	// Nothing committed.
	all, err := s.GetAllReflections(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDanglingReferencesRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReflection("r1")
	r.ThreadID = "no-such-thread"
	err := s.AddReflection(ctx, r)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	r = testReflection("r1")
	r.IdentityAxisID = "no-such-axis"
	err = s.AddReflection(ctx, r)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	th := Thread{ID: "t1", Title: "Missing members", MemberIDs: []string{"ghost"}}
	err = s.AddThread(ctx, th)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestUpdateMissingReflection(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateReflection(context.Background(), testReflection("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReflectionIndices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, layer := range []Layer{LayerSovereign, LayerCommons, LayerBuilder} {
		r := testReflection(uuid.NewString())
		r.Layer = layer
		r.Visible = i != 2
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		r.UpdatedAt = r.CreatedAt
		require.NoError(t, s.AddReflection(ctx, r))
	}

	byLayer, err := s.GetReflectionsByIndex(ctx, ReflectionByLayer, LayerCommons)
	require.NoError(t, err)
	require.Len(t, byLayer, 1)
	assert.Equal(t, LayerCommons, byLayer[0].Layer)

	visible, err := s.GetReflectionsByIndex(ctx, ReflectionByVisibility, true)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	recent, err := s.GetReflectionsByIndex(ctx, ReflectionByCreated, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestThreadIndices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"t1", "t2", "t3"} {
		th := Thread{ID: id, Title: "Pattern " + id}
		th.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		th.UpdatedAt = th.CreatedAt
		require.NoError(t, s.AddThread(ctx, th))
	}

	recent, err := s.GetThreadsByIndex(ctx, ThreadByCreated, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t2", recent[0].ID)
	assert.Equal(t, "t3", recent[1].ID)

	_, err = s.GetThreadsByIndex(ctx, ThreadByCreated, "yesterday")
	require.Error(t, err)
	_, err = s.GetThreadsByIndex(ctx, ThreadIndex("title"), "Pattern t1")
	require.Error(t, err)
}

func TestThreadMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddReflection(ctx, testReflection("a")))
	require.NoError(t, s.AddReflection(ctx, testReflection("b")))
	require.NoError(t, s.AddReflection(ctx, testReflection("c")))

	th := Thread{ID: "t1", Title: "A pattern", MemberIDs: []string{"a", "b"}}
	require.NoError(t, s.AddThread(ctx, th))

	// Members get claimed.
	a, err := s.GetReflection(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "t1", a.ThreadID)

	unthreaded, err := s.GetUnthreadedReflections(ctx)
	require.NoError(t, err)
	require.Len(t, unthreaded, 1)
	assert.Equal(t, "c", unthreaded[0].ID)

	// Removing a member orphans it.
	th.MemberIDs = []string{"b", "c"}
	require.NoError(t, s.UpdateThread(ctx, th))
	a, err = s.GetReflection(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, a.ThreadID)
	c, err := s.GetReflection(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "t1", c.ThreadID)

	// Duplicate member ids are invalid.
	err = s.AddThread(ctx, Thread{ID: "t2", Title: "Dup", MemberIDs: []string{"a", "a"}})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestClaimingThreadedMemberScrubsOldThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddReflection(ctx, testReflection("a")))
	require.NoError(t, s.AddReflection(ctx, testReflection("b")))
	require.NoError(t, s.AddThread(ctx, Thread{ID: "t1", Title: "First home", MemberIDs: []string{"a", "b"}}))

	// A new thread claiming "a" must remove it from t1's member list,
	// not just repoint the reflection.
	require.NoError(t, s.AddThread(ctx, Thread{ID: "t2", Title: "Second home", MemberIDs: []string{"a"}}))

	a, err := s.GetReflection(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "t2", a.ThreadID)

	t1, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, t1.MemberIDs)

	// Same when the claim comes through an update.
	require.NoError(t, s.UpdateThread(ctx, Thread{ID: "t1", Title: "First home", MemberIDs: []string{"b", "a"}}))
	t2, err := s.GetThread(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, t2.MemberIDs)
	a, err = s.GetReflection(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "t1", a.ThreadID)
}

func TestDeleteThreadOrphansMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddReflection(ctx, testReflection("a")))
	require.NoError(t, s.AddThread(ctx, Thread{ID: "t1", Title: "T", MemberIDs: []string{"a"}}))

	require.NoError(t, s.DeleteThread(ctx, "t1"))
	a, err := s.GetReflection(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, a.ThreadID)
}

func TestDeleteThreadCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddReflection(ctx, testReflection("a")))
	require.NoError(t, s.AddReflection(ctx, testReflection("keep")))
	require.NoError(t, s.AddThread(ctx, Thread{ID: "t1", Title: "T", MemberIDs: []string{"a"}}))

	require.NoError(t, s.DeleteThreadCascade(ctx, "t1"))
	_, err := s.GetReflection(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetReflection(ctx, "keep")
	require.NoError(t, err)
}

func TestDeleteReflectionScrubsThreadMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddReflection(ctx, testReflection("a")))
	require.NoError(t, s.AddReflection(ctx, testReflection("b")))
	require.NoError(t, s.AddThread(ctx, Thread{ID: "t1", Title: "T", MemberIDs: []string{"a", "b"}}))

	require.NoError(t, s.DeleteReflection(ctx, "a"))
	th, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, th.MemberIDs)
}

func TestIdentityAxisCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ax := IdentityAxis{ID: "ax1", Label: "Curiosity", Value: "high", Color: "#4f9"}
	require.NoError(t, s.AddIdentityAxis(ctx, ax))

	r := testReflection("r1")
	r.IdentityAxisID = "ax1"
	require.NoError(t, s.AddReflection(ctx, r))

	// Deleting the axis clears the weak reference.
	require.NoError(t, s.DeleteIdentityAxis(ctx, "ax1"))
	got, err := s.GetReflection(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got.IdentityAxisID)
}

func TestSettingsSingleton(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Defaults before any write.
	u, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), u)

	u.Theme = "dark"
	u.FontScale = 1.25
	require.NoError(t, s.PutSettings(ctx, u))
	u.HighContrast = true
	require.NoError(t, s.PutSettings(ctx, u))

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)
	assert.True(t, got.HighContrast)
	assert.Equal(t, 1.25, got.FontScale)
}

func TestConsentAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.AppendConsent(ctx, ConsentRecord{
		ID: "c1", Kind: ConsentLicense, Accepted: true, Timestamp: base,
	}))
	require.NoError(t, s.AppendConsent(ctx, ConsentRecord{
		ID: "c2", Kind: ConsentExport, Accepted: true, Timestamp: base.Add(time.Hour),
	}))

	err := s.AppendConsent(ctx, ConsentRecord{ID: "c1", Kind: ConsentLicense, Accepted: false})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	all, err := s.GetAllConsent(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c1", all[0].ID)

	since, err := s.GetConsentSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "c2", since[0].ID)

	one, err := s.GetConsent(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ConsentLicense, one.Kind)
	assert.True(t, one.Accepted)
	assert.Equal(t, base, one.Timestamp)

	_, err = s.GetConsent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncBoundaryDefaultsClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, layer := range Layers() {
		allowed, err := s.GetSyncBoundary(ctx, layer)
		require.NoError(t, err)
		assert.False(t, allowed, "layer %s must default to closed", layer)
	}

	require.NoError(t, s.SetSyncBoundary(ctx, LayerCommons, true))
	allowed, err := s.GetSyncBoundary(ctx, LayerCommons)
	require.NoError(t, err)
	assert.True(t, allowed)

	all, err := s.GetAllSyncBoundaries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, b := range all {
		assert.Equal(t, b.Layer == LayerCommons, b.Allowed)
	}

	err = s.SetSyncBoundary(ctx, "ether", true)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMeta(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMeta(ctx, "k", "v1"))
	require.NoError(t, s.SetMeta(ctx, "k", "v2"))
	v, err = s.GetMeta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.DeleteMeta(ctx, "k"))
	v, err = s.GetMeta(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestStatsAndClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddReflection(ctx, testReflection("r1")))
	require.NoError(t, s.AddIdentityAxis(ctx, IdentityAxis{ID: "ax1", Label: "L"}))
	require.NoError(t, s.AppendConsent(ctx, ConsentRecord{ID: "c1", Kind: ConsentLicense, Accepted: true}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Reflections)
	assert.Equal(t, int64(1), stats.IdentityAxes)
	assert.Equal(t, int64(1), stats.ConsentRecords)

	require.NoError(t, s.ClearAll(ctx))
	stats, err = s.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Reflections)
	assert.Zero(t, stats.IdentityAxes)
}

func TestContentHash(t *testing.T) {
	a := testReflection("r1")
	a.Tags = []string{"b", "a"}
	b := testReflection("r1")
	b.Tags = []string{"a", "b"}

	// Tag order does not matter; revision and timestamps do not matter.
	b.Rev = 42
	b.UpdatedAt = time.Now()
	assert.Equal(t, ContentHash(a), ContentHash(b))

	b.Content += "!"
	assert.NotEqual(t, ContentHash(a), ContentHash(b))
}
