package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9876543210", "+919876543210"},
		{" 98765 43210 ", "+919876543210"},
		{"919876543210", "+919876543210"},
		{"+919876543210", "+919876543210"},
		{"+15551234567", "+15551234567"},
		{"", ""},
		{"abc", "abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), "input %q", tt.in)
	}
}

func TestActivityStatus_Terminal(t *testing.T) {
	assert.False(t, ActivityPending.IsTerminal())
	assert.True(t, ActivityApproved.IsTerminal())
	assert.True(t, ActivityRejected.IsTerminal())
	assert.False(t, ActivityStatus("BOGUS").Valid())
}

func TestBranch_MinCheckInAmount(t *testing.T) {
	var nilBranch *Branch
	assert.Zero(t, nilBranch.MinCheckInAmount())
	assert.Zero(t, (&Branch{}).MinCheckInAmount())
	assert.Equal(t, 100.0, (&Branch{Settings: &BranchSettings{MinCheckInAmount: 100}}).MinCheckInAmount())
}

func TestReward_Redeemable(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	assert.True(t, (&Reward{Status: RewardActive, PartnerID: "p1"}).Redeemable("p1"))
	assert.True(t, (&Reward{Status: RewardActive, PartnerID: "p1", ExpiryDate: &future}).Redeemable("p1"))
	assert.False(t, (&Reward{Status: RewardActive, PartnerID: "p1", ExpiryDate: &past}).Redeemable("p1"))
	assert.False(t, (&Reward{Status: RewardRedeemed, PartnerID: "p1"}).Redeemable("p1"))
	assert.False(t, (&Reward{Status: RewardActive, PartnerID: "p2"}).Redeemable("p1"))
}

func TestProfile_ActiveRewardFor(t *testing.T) {
	p := &Profile{Rewards: []Reward{
		{ID: "r1", Status: RewardRedeemed, PartnerID: "p1"},
		{ID: "r2", Status: RewardActive, PartnerID: "p1"},
		{ID: "r3", Status: RewardActive, PartnerID: "p2"},
	}}

	got := p.ActiveRewardFor("p1")
	assert.NotNil(t, got)
	assert.Equal(t, "r2", got.ID)
	assert.Nil(t, p.ActiveRewardFor("p9"))
}
