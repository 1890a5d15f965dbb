package bullpen

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/events"
)

type fakeSource struct {
	apps []events.ReliefAppearance
	err  error
}

func (f *fakeSource) QueryWindow(string, int) ([]events.ReliefAppearance, error) {
	return f.apps, f.err
}

func app(date, team string, bf, k, bb int) events.ReliefAppearance {
	return events.ReliefAppearance{
		Date: date, Team: team, IsRelief: true,
		BF: bf, K: k, BB: bb, IPOuts: 3,
	}
}

func testParams() config.BullpenParams {
	return config.BullpenParams{
		LookbackDays:   14,
		MinAppearances: 3,
		HalfLifeDays:   7,
		Metric:         "k_minus_bb",
		ZScoreCap:      2.5,
	}
}

func TestRatingsForBasic(t *testing.T) {
	src := &fakeSource{apps: []events.ReliefAppearance{
		// Strong pen: lots of strikeouts, no walks.
		app("2026-08-12", "T01", 4, 3, 0),
		app("2026-08-13", "T01", 4, 3, 0),
		app("2026-08-14", "T01", 4, 3, 0),
		// Weak pen: walk-heavy.
		app("2026-08-12", "T02", 4, 0, 2),
		app("2026-08-13", "T02", 4, 0, 2),
		app("2026-08-14", "T02", 4, 0, 2),
		// Average pen.
		app("2026-08-12", "T03", 4, 1, 1),
		app("2026-08-13", "T03", 4, 1, 1),
		app("2026-08-14", "T03", 4, 1, 1),
	}}
	r := NewRater(src, testParams())

	ratings, err := r.RatingsFor("2026-08-14")
	require.NoError(t, err)
	require.Len(t, ratings, 3)

	assert.Greater(t, ratings["T01"].Z, ratings["T03"].Z)
	assert.Greater(t, ratings["T03"].Z, ratings["T02"].Z)

	for team, rating := range ratings {
		assert.GreaterOrEqual(t, rating.Rating, 0.0, team)
		assert.LessOrEqual(t, rating.Rating, 1.0, team)
		assert.LessOrEqual(t, math.Abs(rating.Z), 2.5, team)
		assert.Equal(t, 3, rating.N, team)
		assert.Equal(t, "2026-08-14", rating.Date, team)
	}

	// rating01 is the affine image of z, so the league-average pen sits
	// near the middle of the scale.
	assert.InDelta(t, 0.5, ratings["T03"].Rating, 0.05)
}

func TestRatingsForExcludesThinSamples(t *testing.T) {
	src := &fakeSource{apps: []events.ReliefAppearance{
		app("2026-08-12", "T01", 4, 2, 0),
		app("2026-08-13", "T01", 4, 2, 0),
		app("2026-08-14", "T01", 4, 2, 0),
		// Only two appearances: below min_appearances=3.
		app("2026-08-13", "T02", 4, 2, 0),
		app("2026-08-14", "T02", 4, 2, 0),
	}}
	r := NewRater(src, testParams())

	ratings, err := r.RatingsFor("2026-08-14")
	require.NoError(t, err)

	assert.Contains(t, ratings, "T01")
	assert.NotContains(t, ratings, "T02")

	_, ok := r.Z("2026-08-14", "T02")
	assert.False(t, ok, "excluded team must miss the Z lookup")
}

func TestRatingsForIgnoresNonReliefAndBadRows(t *testing.T) {
	starter := app("2026-08-13", "T01", 20, 8, 1)
	starter.IsRelief = false
	zeroBF := app("2026-08-13", "T01", 0, 0, 0)
	future := app("2026-08-20", "T01", 4, 2, 0) // after the window end

	src := &fakeSource{apps: []events.ReliefAppearance{
		starter, zeroBF, future,
		app("2026-08-12", "T01", 4, 2, 0),
		app("2026-08-13", "T01", 4, 2, 0),
	}}
	r := NewRater(src, testParams())

	ratings, err := r.RatingsFor("2026-08-14")
	require.NoError(t, err)
	// Only two qualifying rows survive — below the cutoff.
	assert.Empty(t, ratings)
}

func TestRatingsForDecayPrefersRecentForm(t *testing.T) {
	// Same totals, opposite ordering in time: the team whose good outings
	// are recent must out-rate the one whose good outings are stale.
	src := &fakeSource{apps: []events.ReliefAppearance{
		app("2026-08-01", "FADING", 4, 4, 0),
		app("2026-08-02", "FADING", 4, 4, 0),
		app("2026-08-13", "FADING", 4, 0, 2),
		app("2026-08-14", "FADING", 4, 0, 2),

		app("2026-08-01", "SURGING", 4, 0, 2),
		app("2026-08-02", "SURGING", 4, 0, 2),
		app("2026-08-13", "SURGING", 4, 4, 0),
		app("2026-08-14", "SURGING", 4, 4, 0),
	}}
	r := NewRater(src, testParams())

	ratings, err := r.RatingsFor("2026-08-14")
	require.NoError(t, err)
	require.Contains(t, ratings, "SURGING")
	require.Contains(t, ratings, "FADING")
	assert.Greater(t, ratings["SURGING"].Z, ratings["FADING"].Z)
}

func TestRatingsForCachesPerDate(t *testing.T) {
	src := &fakeSource{apps: []events.ReliefAppearance{
		app("2026-08-12", "T01", 4, 2, 0),
		app("2026-08-13", "T01", 4, 2, 0),
		app("2026-08-14", "T01", 4, 2, 0),
	}}
	r := NewRater(src, testParams())

	first, err := r.RatingsFor("2026-08-14")
	require.NoError(t, err)

	// A source change must not affect the cached date.
	src.err = errors.New("store gone")
	second, err := r.RatingsFor("2026-08-14")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = r.RatingsFor("2026-08-15")
	assert.Error(t, err, "uncached date must hit the source")
}

func TestRatingsForNilSource(t *testing.T) {
	r := NewRater(nil, testParams())
	ratings, err := r.RatingsFor("2026-08-14")
	require.NoError(t, err)
	assert.Empty(t, ratings)
}

func TestSortedIsDeterministic(t *testing.T) {
	src := &fakeSource{apps: []events.ReliefAppearance{
		app("2026-08-12", "B", 4, 2, 0), app("2026-08-13", "B", 4, 2, 0), app("2026-08-14", "B", 4, 2, 0),
		app("2026-08-12", "A", 4, 1, 1), app("2026-08-13", "A", 4, 1, 1), app("2026-08-14", "A", 4, 1, 1),
		app("2026-08-12", "C", 4, 0, 2), app("2026-08-13", "C", 4, 0, 2), app("2026-08-14", "C", 4, 0, 2),
	}}
	r := NewRater(src, testParams())

	sorted, err := r.Sorted("2026-08-14")
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, "A", sorted[0].Team)
	assert.Equal(t, "B", sorted[1].Team)
	assert.Equal(t, "C", sorted[2].Team)
}

func TestAppearanceMetric(t *testing.T) {
	a := events.ReliefAppearance{BF: 4, K: 2, BB: 1, H: 1, HR: 1, IPOuts: 3}

	got, ok := appearanceMetric("k_minus_bb", a)
	require.True(t, ok)
	assert.InDelta(t, 0.25, got, 1e-12)

	got, ok = appearanceMetric("fip_proxy", a)
	require.True(t, ok)
	// -(13*1 + 3*1 - 2*2) / 1 IP
	assert.InDelta(t, -12.0, got, 1e-12)

	_, ok = appearanceMetric("k_minus_bb", events.ReliefAppearance{BF: 0})
	assert.False(t, ok)
	_, ok = appearanceMetric("fip_proxy", events.ReliefAppearance{IPOuts: 0})
	assert.False(t, ok)
}
