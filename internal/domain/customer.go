package domain

import "time"

// Customer is the minimal identity record the backend returns for lookups
// and on login.
type Customer struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
}

// StoreVisitProgress is the per-(customer, branch) aggregate the backend
// recomputes after every approved check-in. Read-only on the client.
type StoreVisitProgress struct {
	PartnerID         string     `json:"partnerId"`
	PartnerName       string     `json:"partnerName,omitempty"`
	BranchID          string     `json:"branchId"`
	BranchName        string     `json:"branchName,omitempty"`
	VisitCount        int        `json:"visitCount"`
	LastVisitAt       *time.Time `json:"lastVisitAt,omitempty"`
	StreakCount       int        `json:"streakCount"`
	StreakPeriodStart *time.Time `json:"streakPeriodStart,omitempty"`
	RewardThreshold   int        `json:"rewardThreshold,omitempty"`
	RewardWindowDays  int        `json:"rewardWindowDays,omitempty"`
	RewardDescription string     `json:"rewardDescription,omitempty"`
}

// Profile is the customer's own view: stores visited and current rewards.
type Profile struct {
	Customer Customer             `json:"customer"`
	Stores   []StoreVisitProgress `json:"stores"`
	Rewards  []Reward             `json:"rewards"`
}

// ActiveRewardFor returns the first redeemable reward for the partner, or
// nil.
func (p *Profile) ActiveRewardFor(partnerID string) *Reward {
	for i := range p.Rewards {
		if p.Rewards[i].Redeemable(partnerID) {
			return &p.Rewards[i]
		}
	}
	return nil
}

// History is the flat activity and redemption listing the history screen
// fetches; the history package reshapes it into per-store views.
type History struct {
	Activities      []Activity `json:"activities"`
	RedeemedRewards []Reward   `json:"redeemedRewards"`
}
