package forecast

import (
	"math"
	"time"
)

const (
	averageWindow    = 7
	dateLayout       = "2006-01-02"
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// MovingAverage projects the mean of the last seven points flat over days.
// Bounds are ±20% of the mean.
func MovingAverage(points []Point, days int) []DayForecast {
	if len(points) == 0 || days <= 0 {
		return nil
	}
	window := min(averageWindow, len(points))
	var sum float64
	for _, p := range points[len(points)-window:] {
		sum += p.Y
	}
	avg := sum / float64(window)

	last, err := time.Parse(dateLayout, points[len(points)-1].DS)
	if err != nil {
		last = time.Now().UTC()
	}
	out := make([]DayForecast, 0, days)
	for i := 1; i <= days; i++ {
		out = append(out, DayForecast{
			Date:            last.AddDate(0, 0, i).Format(dateLayout),
			PredictedDemand: nonNegative(avg),
			LowerBound:      nonNegative(avg * 0.8),
			UpperBound:      nonNegative(avg * 1.2),
		})
	}
	return out
}

// Total sums predicted demand over the horizon.
func Total(days []DayForecast) float64 {
	var total float64
	for _, d := range days {
		total += d.PredictedDemand
	}
	return round2(total)
}

func nonNegative(v float64) float64 {
	return math.Max(0, round2(v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DailySeries buckets sales into one point per UTC day from the first sale
// through until, filling gaps with zero.
func DailySeries(sales []Sale, until time.Time) []Point {
	if len(sales) == 0 {
		return nil
	}
	totals := map[string]float64{}
	first := sales[0].SoldAt.UTC()
	for _, s := range sales {
		at := s.SoldAt.UTC()
		if at.Before(first) {
			first = at
		}
		totals[at.Format(dateLayout)] += float64(s.Quantity)
	}
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	end := until.UTC()
	var out []Point
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(dateLayout)
		out = append(out, Point{DS: key, Y: totals[key]})
	}
	return out
}
