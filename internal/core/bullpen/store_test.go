package bullpen

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfurusawa/winprob/internal/events"
)

func openTestStore(t *testing.T) *AppearanceStore {
	t.Helper()
	s, err := OpenAppearanceStore(filepath.Join(t.TempDir(), "relief.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppearanceStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := events.ReliefAppearance{
		Date: "2026-08-14", Team: "T01", IsRelief: true,
		BF: 5, K: 2, BB: 1, H: 1, HR: 0, IPOuts: 4,
	}
	require.NoError(t, s.Insert(in))

	got, err := s.QueryWindow("2026-08-14", 14)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in, got[0])
}

func TestAppearanceStoreWindowBounds(t *testing.T) {
	s := openTestStore(t)

	for _, date := range []string{
		"2026-07-31", // exactly lookback days before end: excluded (open start)
		"2026-08-01",
		"2026-08-14", // end date itself: included
		"2026-08-15", // after the window
	} {
		require.NoError(t, s.Insert(events.ReliefAppearance{
			Date: date, Team: "T01", IsRelief: true, BF: 4, K: 1, IPOuts: 3,
		}))
	}

	got, err := s.QueryWindow("2026-08-14", 14)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-08-01", got[0].Date)
	assert.Equal(t, "2026-08-14", got[1].Date)
}

func TestAppearanceStoreFiltersStarters(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert(events.ReliefAppearance{
		Date: "2026-08-14", Team: "T01", IsRelief: false, BF: 25, K: 7, IPOuts: 18,
	}))
	require.NoError(t, s.Insert(events.ReliefAppearance{
		Date: "2026-08-14", Team: "T01", IsRelief: true, BF: 4, K: 2, IPOuts: 3,
	}))

	got, err := s.QueryWindow("2026-08-14", 14)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsRelief)
}

func TestAppearanceStoreOrderedOldestFirst(t *testing.T) {
	s := openTestStore(t)

	for _, date := range []string{"2026-08-14", "2026-08-10", "2026-08-12"} {
		require.NoError(t, s.Insert(events.ReliefAppearance{
			Date: date, Team: "T01", IsRelief: true, BF: 4, IPOuts: 3,
		}))
	}

	got, err := s.QueryWindow("2026-08-14", 14)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2026-08-10", got[0].Date)
	assert.Equal(t, "2026-08-12", got[1].Date)
	assert.Equal(t, "2026-08-14", got[2].Date)
}

func TestAppearanceStoreBadDate(t *testing.T) {
	s := openTestStore(t)
	_, err := s.QueryWindow("14-08-2026", 14)
	assert.Error(t, err)
}

func TestAppearanceStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relief.db")

	s, err := OpenAppearanceStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(events.ReliefAppearance{
		Date: "2026-08-14", Team: "T01", IsRelief: true, BF: 4, IPOuts: 3,
	}))
	require.NoError(t, s.Close())

	s, err = OpenAppearanceStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.QueryWindow("2026-08-14", 14)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
