// ABOUTME: Pure scoring and recommendation rules for sync sessions
// ABOUTME: Points are fixed at record time and never recomputed
package stats

import (
	"fmt"
	"time"

	"github.com/harperreed/rolodex/models"
)

const groupingBonusSize = 5

// Recommendation reasons.
const (
	ReasonFirstAdd           = "first add"
	ReasonInitialNetwork     = "initial network"
	ReasonNetworkUpkeep      = "network upkeep"
	ReasonProgressiveGrowth  = "progressive growth"
	ReasonNetworkEstablished = "network established"
)

// BasePoints is the per-contact award for a source.
func BasePoints(source models.Source) int {
	switch source {
	case models.SourceDevice:
		return 5
	case models.SourceInvite:
		return 10
	case models.SourceManual:
		return 3
	default:
		return 0
	}
}

// PointsFor returns the award for one contact added in a batch of batchSize.
// Batches of five or more earn every item 2 points per full group of five.
func PointsFor(source models.Source, batchSize int) int {
	points := BasePoints(source)
	if batchSize >= groupingBonusSize {
		points += 2 * (batchSize / groupingBonusSize)
	}
	return points
}

// ISOWeekKey formats t's ISO-8601 week as "YYYY-WW". The week-year can
// differ from the calendar year around January 1st.
func ISOWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-%02d", year, week)
}

// History is the aggregate the recommendation is derived from.
type History struct {
	TotalContacts int
	ThisWeekAdded int
	LastSessionAt *time.Time
}

// RecommendNextBatch applies the first matching rule.
func RecommendNextBatch(h History, now time.Time) models.Recommendation {
	switch {
	case h.TotalContacts == 0:
		return models.Recommendation{ShouldAddMore: true, Count: 5, Reason: ReasonFirstAdd}
	case h.TotalContacts < 10:
		return models.Recommendation{ShouldAddMore: true, Count: min(5, 10-h.TotalContacts), Reason: ReasonInitialNetwork}
	case h.ThisWeekAdded == 0 && sinceLastSession(h, now) >= 7*24*time.Hour:
		return models.Recommendation{ShouldAddMore: true, Count: 3, Reason: ReasonNetworkUpkeep}
	case h.TotalContacts < 25 && h.ThisWeekAdded < 3:
		return models.Recommendation{ShouldAddMore: true, Count: 2, Reason: ReasonProgressiveGrowth}
	default:
		return models.Recommendation{ShouldAddMore: false, Count: 0, Reason: ReasonNetworkEstablished}
	}
}

// sinceLastSession is unbounded when there has never been a session.
func sinceLastSession(h History, now time.Time) time.Duration {
	if h.LastSessionAt == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(*h.LastSessionAt)
}
