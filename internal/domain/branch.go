package domain

// Partner is a business entity running a loyalty program across one or more
// branches.
type Partner struct {
	ID           string `json:"id"`
	BusinessName string `json:"businessName"`
	IndustryType string `json:"industryType,omitempty"`
}

// BranchSettings carries the per-branch loyalty configuration the client
// needs: the reward streak rules and the minimum accepted check-in amount.
type BranchSettings struct {
	StreakThreshold   int     `json:"streakThreshold,omitempty"`
	StreakWindowDays  int     `json:"streakWindowDays,omitempty"`
	RewardDescription string  `json:"rewardDescription,omitempty"`
	MinCheckInAmount  float64 `json:"minCheckInAmount,omitempty"`
	CooldownHours     int     `json:"cooldownHours,omitempty"`
}

// Branch is a physical store location belonging to a Partner.
type Branch struct {
	ID         string          `json:"id"`
	BranchName string          `json:"branchName"`
	PartnerID  string          `json:"partnerId"`
	Settings   *BranchSettings `json:"settings,omitempty"`
	Partner    *Partner        `json:"partner,omitempty"`
}

// MinCheckInAmount returns the branch's minimum check-in amount, zero when
// unset.
func (b *Branch) MinCheckInAmount() float64 {
	if b == nil || b.Settings == nil {
		return 0
	}
	return b.Settings.MinCheckInAmount
}
