// Package history reshapes the backend's flat activity and redemption
// listing into the per-store view the history screen renders: one group per
// partner, most recent first at every level.
package history

import (
	"sort"
	"time"

	"github.com/Nish7156/loyalty-client/internal/domain"
)

// Fallbacks for records whose partner or branch relation was not expanded by
// the backend.
const (
	unknownPartnerName = "Unknown store"
	unknownBranchName  = "Unknown branch"
)

// StoreHistory is everything the customer has done with one partner.
type StoreHistory struct {
	PartnerID   string
	PartnerName string
	Visits      []domain.Activity
	Redemptions []domain.Reward
	LastEventAt time.Time
}

// VisitBranchName returns the branch name for a visit, with a placeholder
// when the relation was not expanded.
func VisitBranchName(a domain.Activity) string {
	if a.Branch != nil && a.Branch.BranchName != "" {
		return a.Branch.BranchName
	}
	return unknownBranchName
}

// Build groups the flat history by partner. Visits are ordered newest first
// by creation time; redemptions newest first by redemption time, falling
// back to creation time for rewards redeemed before the backend recorded
// timestamps. Stores are ordered by their most recent event.
func Build(h domain.History) []StoreHistory {
	groups := make(map[string]*StoreHistory)

	group := func(partnerID string) *StoreHistory {
		g, ok := groups[partnerID]
		if !ok {
			g = &StoreHistory{PartnerID: partnerID, PartnerName: unknownPartnerName}
			groups[partnerID] = g
		}
		return g
	}

	for _, a := range h.Activities {
		g := group(activityPartnerID(a))
		if g.PartnerName == unknownPartnerName {
			if name := activityPartnerName(a); name != "" {
				g.PartnerName = name
			}
		}
		g.Visits = append(g.Visits, a)
		g.bump(a.CreatedAt)
	}

	for _, r := range h.RedeemedRewards {
		g := group(r.PartnerID)
		if g.PartnerName == unknownPartnerName && r.Partner != nil && r.Partner.BusinessName != "" {
			g.PartnerName = r.Partner.BusinessName
		}
		g.Redemptions = append(g.Redemptions, r)
		g.bump(RedemptionTime(r))
	}

	out := make([]StoreHistory, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.Visits, func(i, j int) bool {
			return g.Visits[i].CreatedAt.After(g.Visits[j].CreatedAt)
		})
		sort.SliceStable(g.Redemptions, func(i, j int) bool {
			return RedemptionTime(g.Redemptions[i]).After(RedemptionTime(g.Redemptions[j]))
		})
		out = append(out, *g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastEventAt.Equal(out[j].LastEventAt) {
			return out[i].LastEventAt.After(out[j].LastEventAt)
		}
		return out[i].PartnerID < out[j].PartnerID
	})
	return out
}

func (g *StoreHistory) bump(t time.Time) {
	if t.After(g.LastEventAt) {
		g.LastEventAt = t
	}
}

func activityPartnerID(a domain.Activity) string {
	switch {
	case a.Partner != nil && a.Partner.ID != "":
		return a.Partner.ID
	case a.Branch != nil && a.Branch.PartnerID != "":
		return a.Branch.PartnerID
	default:
		return ""
	}
}

func activityPartnerName(a domain.Activity) string {
	if a.Partner != nil {
		return a.Partner.BusinessName
	}
	return ""
}

// RedemptionTime is when the reward was spent, falling back to creation
// time for records missing the timestamp.
func RedemptionTime(r domain.Reward) time.Time {
	if r.RedeemedAt != nil {
		return *r.RedeemedAt
	}
	return r.CreatedAt
}
