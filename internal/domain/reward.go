package domain

import "time"

// RewardStatus is the redemption state of a reward.
type RewardStatus string

const (
	RewardActive   RewardStatus = "ACTIVE"
	RewardRedeemed RewardStatus = "REDEEMED"
)

// Reward is issued server-side when a customer's visit streak crosses the
// branch threshold. Redeeming yields a short code the customer shows staff.
type Reward struct {
	ID             string       `json:"id"`
	CustomerID     string       `json:"customerId"`
	PartnerID      string       `json:"partnerId"`
	Status         RewardStatus `json:"status"`
	RedemptionCode string       `json:"redemptionCode,omitempty"`
	ExpiryDate     *time.Time   `json:"expiryDate,omitempty"`
	RedeemedAt     *time.Time   `json:"redeemedAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	Partner        *Partner     `json:"partner,omitempty"`
	RedeemedBranch *Branch      `json:"redeemedBranch,omitempty"`
}

// Redeemable reports whether the reward can still be redeemed for the given
// partner.
func (r *Reward) Redeemable(partnerID string) bool {
	if r.Status != RewardActive || r.PartnerID != partnerID {
		return false
	}
	if r.ExpiryDate != nil && r.ExpiryDate.Before(time.Now()) {
		return false
	}
	return true
}
