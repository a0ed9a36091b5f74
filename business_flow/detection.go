package businessflow

import (
	"math"
	"sort"
	"time"

	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/shopspring/decimal"
)

const stddevEpsilon = 1e-9

// GroupStats holds the running sums of one organization's observations
type GroupStats struct {
	Count      int64
	Sum        float64
	SumSquares float64
}

// Add accumulates one observation
func (g *GroupStats) Add(v float64) {
	g.Count++
	g.Sum += v
	g.SumSquares += v * v
}

// Mean is the arithmetic mean
func (g GroupStats) Mean() float64 {
	if g.Count == 0 {
		return 0
	}
	return g.Sum / float64(g.Count)
}

// StdDev is the population standard deviation (divides by N)
func (g GroupStats) StdDev() float64 {
	if g.Count == 0 {
		return 0
	}
	mean := g.Mean()
	variance := g.SumSquares/float64(g.Count) - mean*mean
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// OutlierVerdict is the evaluation of one value against its group
type OutlierVerdict struct {
	Flagged   bool
	Mean      float64
	StdDev    float64
	ZScore    float64
	Threshold float64
}

// Evaluate flags v when it exceeds mean + sigma*stddev of the group, or when
// it exceeds the same bound computed over the group without v. The second test
// catches a single extreme value in a small group, where v inflates the
// stddev enough to hide itself. That second test also requires v to exceed
// the mean of the others by utils.OutlierMinRelativeDeviation of it, so a
// small step above a constant group is not an outlier. Mean, StdDev and
// ZScore always describe the whole group.
func (g GroupStats) Evaluate(v, sigma float64) OutlierVerdict {
	mean := g.Mean()
	std := g.StdDev()
	verdict := OutlierVerdict{Mean: mean, StdDev: std, Threshold: mean + sigma*std}
	if std > 0 {
		verdict.ZScore = (v - mean) / std
	}
	if v > verdict.Threshold && std > stddevEpsilon {
		verdict.Flagged = true
		return verdict
	}

	if g.Count < 2 {
		return verdict
	}
	rest := GroupStats{Count: g.Count - 1, Sum: g.Sum - v, SumSquares: g.SumSquares - v*v}
	restMean := rest.Mean()
	if v-restMean <= utils.OutlierMinRelativeDeviation*math.Max(1, math.Abs(restMean)) {
		return verdict
	}
	restStd := rest.StdDev()
	if restStd <= stddevEpsilon*math.Max(1, math.Abs(restMean)) {
		verdict.Flagged = true
		return verdict
	}
	verdict.Flagged = (v-restMean)/restStd > sigma
	return verdict
}

// Observation is one monetary value of a row, grouped by organization
type Observation struct {
	RecordID  uint
	InvoiceID uint
	Group     string
	Value     float64
}

// OutlierFinding is an observation flagged against its group
type OutlierFinding struct {
	Observation
	OutlierVerdict
}

// DetectOutliers groups observations and flags the values above the
// threshold. Groups with fewer than minObservations values are skipped.
func DetectOutliers(observations []Observation, minObservations int64, sigma float64) []OutlierFinding {
	stats := make(map[string]*GroupStats)
	for _, o := range observations {
		g, ok := stats[o.Group]
		if !ok {
			g = &GroupStats{}
			stats[o.Group] = g
		}
		g.Add(o.Value)
	}

	var findings []OutlierFinding
	for _, o := range observations {
		g := stats[o.Group]
		if g.Count < minObservations {
			continue
		}
		if v := g.Evaluate(o.Value, sigma); v.Flagged {
			findings = append(findings, OutlierFinding{Observation: o, OutlierVerdict: v})
		}
	}
	return findings
}

// MonthlyTotal is one organization's summed revenue for one month
type MonthlyTotal struct {
	Organization string
	Month        time.Time
	Total        float64
}

// TemporalDrop is a month whose total fell below the drop ratio of the month before
type TemporalDrop struct {
	Organization  string
	PreviousMonth time.Time
	Month         time.Time
	PreviousTotal float64
	Total         float64
	DropPercent   float64
}

// DetectTemporalDrops scans each organization's months in chronological
// order. Organizations with fewer than minMonths points are skipped.
func DetectTemporalDrops(series []MonthlyTotal, minMonths int, ratio float64) []TemporalDrop {
	byOrg := make(map[string][]MonthlyTotal)
	var orgs []string
	for _, m := range series {
		if _, ok := byOrg[m.Organization]; !ok {
			orgs = append(orgs, m.Organization)
		}
		byOrg[m.Organization] = append(byOrg[m.Organization], m)
	}
	sort.Strings(orgs)

	var drops []TemporalDrop
	for _, org := range orgs {
		months := byOrg[org]
		if len(months) < minMonths {
			continue
		}
		sort.SliceStable(months, func(i, j int) bool { return months[i].Month.Before(months[j].Month) })
		for i := 1; i < len(months); i++ {
			prev, cur := months[i-1], months[i]
			if prev.Total <= 0 || cur.Total >= prev.Total*ratio {
				continue
			}
			drops = append(drops, TemporalDrop{
				Organization:  org,
				PreviousMonth: prev.Month,
				Month:         cur.Month,
				PreviousTotal: prev.Total,
				Total:         cur.Total,
				DropPercent:   (prev.Total - cur.Total) / prev.Total * 100,
			})
		}
	}
	return drops
}

// HasConflict reports whether the members of a duplicate group disagree on
// at least one compared field. Each member is the list of its field values
// in a fixed order.
func HasConflict(members [][]string) bool {
	if len(members) < 2 {
		return false
	}
	for field := range members[0] {
		first := members[0][field]
		for _, m := range members[1:] {
			if field >= len(m) || m[field] != first {
				return true
			}
		}
	}
	return false
}

// MissingFrom returns the values of a that are absent from b, sorted
func MissingFrom(a, b []string) []string {
	present := make(map[string]struct{}, len(b))
	for _, v := range b {
		present[v] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, v := range a {
		if _, ok := present[v]; ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// DiscountCheck compares the discounted pre-tax amount with the stated total
type DiscountCheck struct {
	Expected decimal.Decimal
	Gap      decimal.Decimal
	Mismatch bool
}

// CheckDiscount applies discountPercent to preTax and flags a relative gap
// above tolerance against total. A zero total only matches a zero expectation.
func CheckDiscount(preTax, discountPercent, total decimal.Decimal, tolerance float64) DiscountCheck {
	hundred := decimal.NewFromInt(100)
	expected := preTax.Mul(hundred.Sub(discountPercent)).Div(hundred)
	gap := expected.Sub(total).Abs()
	check := DiscountCheck{Expected: expected.Round(2), Gap: gap.Round(2)}
	if total.IsZero() {
		check.Mismatch = !gap.IsZero()
		return check
	}
	check.Mismatch = gap.Div(total.Abs()).GreaterThan(decimal.NewFromFloat(tolerance))
	return check
}

// LineAmountGap returns |revenue + tax - total|
func LineAmountGap(revenue, tax, total decimal.Decimal) decimal.Decimal {
	return revenue.Add(tax).Sub(total).Abs()
}

func decimalKey(d decimal.NullDecimal) string {
	if !d.Valid {
		return "<null>"
	}
	return d.Decimal.String()
}

func textKey(s *string) string {
	if s == nil {
		return "<null>"
	}
	return *s
}
