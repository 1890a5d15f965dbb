package bullpen

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

// Rating is one team's relief-strength rating for a date.
type Rating struct {
	Team      string  `json:"team"`
	Date      string  `json:"date"`
	Rating    float64 `json:"rating01"` // (z+cap)/(2*cap), in [0,1]
	Z         float64 `json:"z"`        // league z-score, capped
	N         int     `json:"n"`        // qualifying appearances in the window
	RawMetric float64 `json:"raw_metric"`
}

// Source supplies relief appearances for a lookback window.
// *AppearanceStore satisfies it.
type Source interface {
	QueryWindow(endDate string, lookbackDays int) ([]events.ReliefAppearance, error)
}

// Rater computes per-team, per-date relief-strength ratings from recent
// appearances: a per-appearance metric, exponential time decay, a
// minimum-appearance cutoff, then league z-scoring mapped onto [0,1].
//
// Ratings are cached per date. The cache is the only cross-game shared
// state in the engine; singleflight keeps two games racing on the same
// date from computing it twice.
type Rater struct {
	src    Source
	params config.BullpenParams

	sf    singleflight.Group
	cache syncMap
}

// syncMap is a tiny typed wrapper; date -> map[team]Rating.
type syncMap struct {
	mu sync.RWMutex
	m  map[string]map[string]Rating
}

func NewRater(src Source, p config.BullpenParams) *Rater {
	if p.LookbackDays <= 0 {
		p.LookbackDays = 14
	}
	if p.HalfLifeDays <= 0 {
		p.HalfLifeDays = 7
	}
	if p.ZScoreCap <= 0 {
		p.ZScoreCap = 2.5
	}
	return &Rater{
		src:    src,
		params: p,
		cache:  syncMap{m: make(map[string]map[string]Rating)},
	}
}

// RatingsFor returns the ratings map for a date, computing and caching it
// on first use. Safe for concurrent use; a redundant recompute is harmless
// but singleflight avoids it anyway.
func (r *Rater) RatingsFor(date string) (map[string]Rating, error) {
	r.cache.mu.RLock()
	cached, ok := r.cache.m[date]
	r.cache.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := r.sf.Do(date, func() (any, error) {
		ratings, err := r.compute(date)
		if err != nil {
			return nil, err
		}
		r.cache.mu.Lock()
		r.cache.m[date] = ratings
		r.cache.mu.Unlock()
		telemetry.Metrics.RatingsComputed.Inc()
		return ratings, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Rating), nil
}

// Z returns the capped z-score for a team on a date. The second return is
// false when the team didn't qualify (too few appearances in the window).
func (r *Rater) Z(date, team string) (float64, bool) {
	ratings, err := r.RatingsFor(date)
	if err != nil {
		telemetry.Warnf("bullpen: ratings for %s: %v", date, err)
		return 0, false
	}
	rating, ok := ratings[team]
	if !ok {
		return 0, false
	}
	return rating.Z, true
}

// Sorted returns the date's ratings ordered by team, for deterministic
// persistence.
func (r *Rater) Sorted(date string) ([]Rating, error) {
	ratings, err := r.RatingsFor(date)
	if err != nil {
		return nil, err
	}
	out := make([]Rating, 0, len(ratings))
	for _, rt := range ratings {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Team < out[j].Team })
	return out, nil
}

func (r *Rater) compute(date string) (map[string]Rating, error) {
	if r.src == nil {
		// No appearance store: every lookup misses and the adjuster
		// stays out of the picture.
		return map[string]Rating{}, nil
	}

	end, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("bullpen: bad date %q: %w", date, err)
	}

	apps, err := r.src.QueryWindow(date, r.params.LookbackDays)
	if err != nil {
		return nil, err
	}

	type agg struct {
		weightedSum float64
		weightTotal float64
		n           int
	}
	byTeam := make(map[string]*agg)

	for _, a := range apps {
		if !a.IsRelief {
			continue
		}
		metric, ok := appearanceMetric(r.params.Metric, a)
		if !ok {
			continue
		}

		appDate, err := time.Parse("2006-01-02", a.Date)
		if err != nil {
			continue
		}
		ageDays := end.Sub(appDate).Hours() / 24
		if ageDays < 0 {
			continue
		}
		weight := math.Exp(-math.Ln2 * ageDays / r.params.HalfLifeDays)

		t := byTeam[a.Team]
		if t == nil {
			t = &agg{}
			byTeam[a.Team] = t
		}
		t.weightedSum += weight * metric
		t.weightTotal += weight
		t.n++
	}

	// Teams below the appearance cutoff are excluded from the date
	// entirely — a two-appearance sample says nothing.
	raw := make(map[string]float64)
	ns := make(map[string]int)
	for team, t := range byTeam {
		if t.n < r.params.MinAppearances || t.weightTotal == 0 {
			continue
		}
		raw[team] = t.weightedSum / t.weightTotal
		ns[team] = t.n
	}

	ratings := make(map[string]Rating, len(raw))
	if len(raw) == 0 {
		return ratings, nil
	}

	mean, std := meanStd(raw)
	zcap := r.params.ZScoreCap
	for team, m := range raw {
		z := 0.0
		if std > 0 {
			z = (m - mean) / std
		}
		z = math.Max(-zcap, math.Min(zcap, z))
		ratings[team] = Rating{
			Team:      team,
			Date:      date,
			Rating:    (z + zcap) / (2 * zcap),
			Z:         z,
			N:         ns[team],
			RawMetric: m,
		}
	}
	return ratings, nil
}

// appearanceMetric scores one appearance so that larger is better.
func appearanceMetric(name string, a events.ReliefAppearance) (float64, bool) {
	switch name {
	case "fip_proxy":
		if a.IPOuts <= 0 {
			return 0, false
		}
		ip := float64(a.IPOuts) / 3.0
		// FIP numerator without the league constant; negated so that a
		// better pitcher scores higher.
		return -(13*float64(a.HR) + 3*float64(a.BB) - 2*float64(a.K)) / ip, true
	default: // k_minus_bb
		if a.BF <= 0 {
			return 0, false
		}
		return (float64(a.K) - float64(a.BB)) / float64(a.BF), true
	}
}

func meanStd(m map[string]float64) (mean, std float64) {
	n := float64(len(m))
	for _, v := range m {
		mean += v
	}
	mean /= n

	var ss float64
	for _, v := range m {
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / n)
	return mean, std
}
