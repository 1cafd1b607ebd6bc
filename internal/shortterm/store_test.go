package shortterm_test

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/shortterm"
	"github.com/Modzer0/Brain-sub000/pkg/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T, opts ...shortterm.Option) (*shortterm.Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return shortterm.NewStore(clk, testLogger(), opts...), clk
}

func item(id, content string, importance float64, ts time.Time) models.MemoryItem {
	return models.MemoryItem{
		ID:              id,
		Content:         content,
		ImportanceScore: importance,
		Timestamp:       ts,
		MemoryType:      models.MemoryTypeShortTerm,
	}
}

func TestStore_AddAssignsTimestamp(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Add(models.MemoryItem{ID: "a", Content: "hello"}))

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, epoch, got.Timestamp)
}

func TestStore_AddRejectsEmptyID(t *testing.T) {
	s, _ := newStore(t)
	err := s.Add(models.MemoryItem{Content: "no id"})
	assert.ErrorIs(t, err, shortterm.ErrInvalidItem)
}

func TestStore_AddRejectsOversizedItem(t *testing.T) {
	s, _ := newStore(t, shortterm.WithCapacity(300))
	err := s.Add(item("big", string(make([]byte, 1000)), 0.5, epoch))
	assert.ErrorIs(t, err, shortterm.ErrItemTooLarge)
	assert.Equal(t, 0, s.Count())
}

func TestStore_ReplaceReleasesOldSize(t *testing.T) {
	s, _ := newStore(t)
	first := item("a", "short", 0.5, epoch)
	require.NoError(t, s.Add(first))
	require.NoError(t, s.Add(item("a", "a considerably longer payload", 0.5, epoch)))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, shortterm.EstimateSize(item("a", "a considerably longer payload", 0.5, epoch)), s.Usage())
}

func TestStore_CapacityInvariant(t *testing.T) {
	s, _ := newStore(t, shortterm.WithCapacity(4096))
	for i := range 200 {
		content := fmt.Sprintf("memory number %d with some padding %s", i, string(make([]byte, i%50)))
		require.NoError(t, s.Add(item(fmt.Sprintf("m-%d", i), content, float64(i%10)/10, epoch.Add(time.Duration(i)*time.Second))))
		assert.LessOrEqual(t, s.Usage(), s.Capacity(), "usage exceeded capacity after add %d", i)
	}
}

func TestStore_AssociationGrowthKeepsCapacity(t *testing.T) {
	size := shortterm.EstimateSize(item("x", "aaaa", 0, epoch))
	s, _ := newStore(t, shortterm.WithCapacity(2*size))

	require.NoError(t, s.Add(item("a", "aaaa", 0.9, epoch)))
	require.NoError(t, s.Add(item("b", "bbbb", 0.1, epoch)))

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("link-%02d", i)
	}
	require.NoError(t, s.UpdateAssociations("a", ids))

	assert.LessOrEqual(t, s.Usage(), s.Capacity())
	a, ok := s.Get("a")
	require.True(t, ok, "updated item must be kept")
	assert.Len(t, a.Associations, 10)
	_, ok = s.Get("b")
	assert.False(t, ok, "lower-importance item should be evicted")
	assert.Equal(t, shortterm.EstimateSize(a), s.Usage())
}

func TestStore_AssociationGrowthBeyondCapacityRejected(t *testing.T) {
	size := shortterm.EstimateSize(item("x", "aaaa", 0, epoch))
	s, _ := newStore(t, shortterm.WithCapacity(2*size))

	require.NoError(t, s.Add(item("a", "aaaa", 0.9, epoch)))
	require.NoError(t, s.Add(item("b", "bbbb", 0.1, epoch)))
	before := s.Usage()

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("association-%03d", i)
	}
	err := s.UpdateAssociations("a", ids)
	assert.ErrorIs(t, err, shortterm.ErrItemTooLarge)

	assert.Equal(t, before, s.Usage())
	assert.LessOrEqual(t, s.Usage(), s.Capacity())
	a, ok := s.Get("a")
	require.True(t, ok)
	assert.Empty(t, a.Associations)
	assert.Equal(t, 2, s.Count())
}

func TestStore_EvictsLowerImportanceFirst(t *testing.T) {
	size := shortterm.EstimateSize(item("x", "aaaa", 0, epoch))
	s, _ := newStore(t, shortterm.WithCapacity(2*size))

	require.NoError(t, s.Add(item("low", "aaaa", 0.2, epoch)))
	require.NoError(t, s.Add(item("high", "bbbb", 0.8, epoch)))
	require.NoError(t, s.Add(item("new", "cccc", 0.5, epoch)))

	_, lowOK := s.Get("low")
	_, highOK := s.Get("high")
	_, newOK := s.Get("new")
	assert.False(t, lowOK, "lower-importance item should be evicted")
	assert.True(t, highOK)
	assert.True(t, newOK)
}

func TestStore_EvictsOlderFirstOnEqualImportance(t *testing.T) {
	size := shortterm.EstimateSize(item("x", "aaaa", 0, epoch))
	s, _ := newStore(t, shortterm.WithCapacity(2*size))

	require.NoError(t, s.Add(item("old", "aaaa", 0.5, epoch.Add(-time.Hour))))
	require.NoError(t, s.Add(item("young", "bbbb", 0.5, epoch)))
	require.NoError(t, s.Add(item("new", "cccc", 0.5, epoch.Add(time.Minute))))

	_, oldOK := s.Get("old")
	_, youngOK := s.Get("young")
	assert.False(t, oldOK, "older item should be evicted")
	assert.True(t, youngOK)
}

func TestStore_FillPastCapacityRetainsImportantItem(t *testing.T) {
	low := item("low-0000", "low-0000", 0.1, epoch)
	size := shortterm.EstimateSize(low)
	s, _ := newStore(t, shortterm.WithCapacity(1000*size))

	for i := range 1000 {
		id := fmt.Sprintf("low-%04d", i)
		require.NoError(t, s.Add(item(id, id, 0.1, epoch.Add(time.Duration(i)*time.Millisecond))))
	}
	require.Equal(t, 1000, s.Count())

	require.NoError(t, s.Add(item("vip", "important", 0.9, epoch.Add(time.Hour))))

	_, ok := s.Get("vip")
	assert.True(t, ok, "new high-importance item must be retained")
	assert.Less(t, s.Count(), 1001)
	assert.LessOrEqual(t, s.Usage(), s.Capacity())
	_, oldest := s.Get("low-0000")
	assert.False(t, oldest, "oldest low-importance item should be evicted first")
}

func TestStore_SearchRanksByTermHits(t *testing.T) {
	s, _ := newStore(t)
	both := item("both", "hello world", 0.1, epoch)
	one := item("one", "hello there", 0.9, epoch)
	tagged := item("tagged", "hello world", 0.1, epoch.Add(-time.Minute))
	tagged.Tags = []string{"world"}
	require.NoError(t, s.Add(both))
	require.NoError(t, s.Add(one))
	require.NoError(t, s.Add(tagged))
	require.NoError(t, s.Add(item("none", "unrelated", 1, epoch)))

	got := s.Search("HELLO world")
	require.Len(t, got, 3)
	assert.Equal(t, "tagged", got[0].ID)
	assert.Equal(t, "both", got[1].ID)
	assert.Equal(t, "one", got[2].ID)
}

func TestStore_SearchMatchesContextValues(t *testing.T) {
	s, _ := newStore(t)
	it := item("img", "Image processed", 0.5, epoch)
	it.Context = map[string]models.ContextValue{"format": models.String("PNG")}
	require.NoError(t, s.Add(it))

	got := s.Search("png")
	require.Len(t, got, 1)
	assert.Equal(t, "img", got[0].ID)
	assert.Empty(t, s.Search("   "))
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s, _ := newStore(t)
	for i := range 5 {
		require.NoError(t, s.Add(item(fmt.Sprintf("r%d", i), "x", 0.5, epoch.Add(time.Duration(i)*time.Minute))))
	}
	got := s.Recent(3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"r4", "r3", "r2"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Nil(t, s.Recent(0))
}

func TestStore_CapacityChangedFiresOnMutation(t *testing.T) {
	s, _ := newStore(t, shortterm.WithCapacity(10_000))
	var mu sync.Mutex
	var seen []float64
	s.OnCapacityChanged(func(u float64) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u)
	})

	require.NoError(t, s.Add(item("a", "hello", 0.5, epoch)))
	require.NoError(t, s.UpdateAssociations("a", []string{"b"}))
	assert.True(t, s.Remove("a"))
	s.Clear()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	assert.Greater(t, seen[0], 0.0)
	assert.Equal(t, 0.0, seen[3])
}

func TestStore_PrepareForCompression(t *testing.T) {
	s, clk := newStore(t)
	require.NoError(t, s.Add(item("old-important", "a", 0.9, epoch.Add(-2*time.Hour))))
	require.NoError(t, s.Add(item("fresh-unimportant", "b", 0.1, epoch)))
	require.NoError(t, s.Add(item("fresh-important", "c", 0.9, epoch)))
	require.NoError(t, s.Add(item("fresh-mid", "d", 0.5, epoch)))
	clk.Set(epoch)

	got := s.PrepareForCompression()
	require.Len(t, got, 2)
	assert.Equal(t, "fresh-unimportant", got[0].ID)
	assert.Equal(t, "old-important", got[1].ID)

	assert.Equal(t, 2, s.Count())
	_, ok := s.Get("fresh-unimportant")
	assert.False(t, ok, "compression hand-off removes the item")
}

func TestStore_PrepareForCompressionCapsAtHalf(t *testing.T) {
	s, _ := newStore(t)
	for i := range 6 {
		require.NoError(t, s.Add(item(fmt.Sprintf("o%d", i), "x", 0.1, epoch.Add(-2*time.Hour))))
	}
	assert.Len(t, s.PrepareForCompression(), 3)
	assert.Equal(t, 3, s.Count())
}

func TestStore_ClearResetsUsage(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Add(item("a", "x", 0.5, epoch)))
	s.Clear()
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, int64(0), s.Usage())
}

func TestStore_SearchByContext(t *testing.T) {
	s, _ := newStore(t)
	a := item("a", "x", 0.5, epoch)
	a.Context = map[string]models.ContextValue{
		"source": models.String("Camera Roll"),
		"width":  models.Number(800),
	}
	b := item("b", "y", 0.9, epoch)
	b.Context = map[string]models.ContextValue{"source": models.String("camera")}
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	got := s.SearchByContext(map[string]models.ContextValue{"source": models.String("camera")})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID, "ties broken by importance")

	got = s.SearchByContext(map[string]models.ContextValue{
		"source": models.String("roll"),
		"width":  models.Number(800),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	assert.Empty(t, s.SearchByContext(map[string]models.ContextValue{"width": models.String("800")}))
}

func TestStore_SearchByTemporalRangeInclusive(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Add(item("before", "x", 0.5, epoch.Add(-time.Hour))))
	require.NoError(t, s.Add(item("start", "x", 0.5, epoch)))
	require.NoError(t, s.Add(item("end", "x", 0.5, epoch.Add(time.Hour))))
	require.NoError(t, s.Add(item("after", "x", 0.5, epoch.Add(2*time.Hour))))

	got := s.SearchByTemporalRange(epoch, epoch.Add(time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, "end", got[0].ID)
	assert.Equal(t, "start", got[1].ID)
}

func TestStore_AssociationsUnionOnly(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Add(item("a", "x", 0.5, epoch)))
	require.NoError(t, s.Add(item("b", "y", 0.5, epoch)))

	require.NoError(t, s.UpdateAssociations("a", []string{"b", "c"}))
	require.NoError(t, s.UpdateAssociations("a", []string{"b"}))

	got, _ := s.Get("a")
	assert.Equal(t, []string{"b", "c"}, got.Associations)

	linked := s.GetByAssociation("b")
	ids := []string{}
	for _, m := range linked {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	assert.ErrorIs(t, s.UpdateAssociations("missing", []string{"a"}), shortterm.ErrNotFound)
}

func TestStore_ConcurrentAdds(t *testing.T) {
	s, _ := newStore(t, shortterm.WithCapacity(64*1024))
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 200 {
				_ = s.Add(item(fmt.Sprintf("w%d-%d", w, i), "concurrent payload", float64(i%10)/10, epoch))
				_ = s.CapacityUsage()
			}
		}(w)
	}
	wg.Wait()

	var total int64
	for _, m := range s.All() {
		total += shortterm.EstimateSize(m)
	}
	assert.Equal(t, total, s.Usage(), "usage counter must match stored items once writers settle")
}
