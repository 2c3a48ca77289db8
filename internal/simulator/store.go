// Package simulator is a self-contained in-memory loyalty backend used for
// local development and end-to-end tests. It speaks the same REST and
// websocket contract as the production service: OTP auth, check-in approval,
// streak-based reward issuance and code-based redemption.
package simulator

import (
	"crypto/rand"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Nish7156/loyalty-client/internal/domain"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
)

const (
	otpTTL            = 5 * time.Minute
	otpBurst          = 3
	otpRefillInterval = time.Minute
	rewardValidFor    = 30 * 24 * time.Hour
	defaultThreshold  = 5
	defaultWindowDays = 30
)

// Staff is a seeded branch employee who can log in via OTP.
type Staff struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	BranchID string `json:"branchId"`
}

type otpEntry struct {
	code    string
	expires time.Time
}

type visitProgress struct {
	visitCount  int
	lastVisitAt time.Time
	streakCount int
	streakStart time.Time
}

// Store holds all simulator state in memory behind one lock. Everything is
// lost on restart, which is the point.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	partners   map[string]domain.Partner
	branches   map[string]domain.Branch
	staff      map[string]Staff // by phone
	customers  map[string]domain.Customer
	activities map[string]domain.Activity
	rewards    map[string]domain.Reward
	otps       map[string]otpEntry
	otpLimits  map[string]*rate.Limiter
	// progress is keyed by customer phone, then branch id.
	progress map[string]map[string]*visitProgress
}

// NewStore creates an empty store. Seed adds partners, branches and staff.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:     logger,
		now:        time.Now,
		partners:   make(map[string]domain.Partner),
		branches:   make(map[string]domain.Branch),
		staff:      make(map[string]Staff),
		customers:  make(map[string]domain.Customer),
		activities: make(map[string]domain.Activity),
		rewards:    make(map[string]domain.Reward),
		otps:       make(map[string]otpEntry),
		otpLimits:  make(map[string]*rate.Limiter),
		progress:   make(map[string]map[string]*visitProgress),
	}
}

// Seed registers a partner with one branch and one staff member, returning
// the branch id. Call once per simulated store at startup.
func (s *Store) Seed(partner domain.Partner, branch domain.Branch, staff Staff) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if partner.ID == "" {
		partner.ID = uuid.NewString()
	}
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	if staff.ID == "" {
		staff.ID = uuid.NewString()
	}
	branch.PartnerID = partner.ID
	staff.BranchID = branch.ID

	p := partner
	branch.Partner = &p
	s.partners[partner.ID] = partner
	s.branches[branch.ID] = branch
	s.staff[staff.Phone] = staff
	return branch.ID
}

// IssueOTP generates a one-time code for the phone. The code is logged but
// never returned to the caller, so transport responses cannot leak it.
func (s *Store) IssueOTP(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.otpLimits[phone]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(otpRefillInterval), otpBurst)
		s.otpLimits[phone] = limiter
	}
	if !limiter.Allow() {
		return apperrors.InvalidInput("too many OTP requests, try again later")
	}

	code := randomDigits(6)
	s.otps[phone] = otpEntry{code: code, expires: s.now().Add(otpTTL)}
	s.logger.Info("OTP issued", slog.String("phone", phone), slog.String("otp", code))
	return nil
}

// VerifyOTP consumes the code for the phone. Codes are single-use.
func (s *Store) VerifyOTP(phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.otps[phone]
	if !ok || entry.code != code || s.now().After(entry.expires) {
		return apperrors.Unauthorized("invalid or expired OTP")
	}
	delete(s.otps, phone)
	return nil
}

// Customer looks up a customer by phone.
func (s *Store) Customer(phone string) (domain.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[phone]
	return c, ok
}

// RegisterCustomer creates a customer record. Registering an existing phone
// is a conflict.
func (s *Store) RegisterCustomer(phone, name string) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[phone]; ok {
		return domain.Customer{}, apperrors.Conflict("customer already registered")
	}
	c := domain.Customer{PhoneNumber: phone, Name: name}
	s.customers[phone] = c
	return c, nil
}

// StaffByPhone looks up a seeded staff member.
func (s *Store) StaffByPhone(phone string) (Staff, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.staff[phone]
	return st, ok
}

// StaffByID resolves an authenticated staff subject back to the record.
func (s *Store) StaffByID(id string) (Staff, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.staff {
		if st.ID == id {
			return st, true
		}
	}
	return Staff{}, false
}

// Branch returns a branch with its partner relation expanded.
func (s *Store) Branch(id string) (domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[id]
	if !ok {
		return domain.Branch{}, apperrors.NotFound("branch", id)
	}
	return b, nil
}

// CreateCheckIn records a pending check-in for the customer at the branch.
func (s *Store) CreateCheckIn(phone, branchID, customerName string, value *float64) (domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return domain.Activity{}, apperrors.NotFound("branch", branchID)
	}
	if _, ok := s.customers[phone]; !ok {
		return domain.Activity{}, apperrors.NotFound("customer", phone)
	}
	if min := branch.MinCheckInAmount(); value != nil && *value > 0 && *value < min {
		return domain.Activity{}, apperrors.InvalidInput("amount below branch minimum")
	}

	a := domain.Activity{
		ID:           uuid.NewString(),
		CustomerID:   phone,
		BranchID:     branchID,
		Status:       domain.ActivityPending,
		Value:        value,
		CustomerName: customerName,
		CreatedAt:    s.now(),
	}
	s.activities[a.ID] = a
	return a, nil
}

// Activities returns the branch's check-ins, newest first.
func (s *Store) Activities(branchID string) []domain.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		if a.BranchID == branchID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ResolveActivity applies a staff decision. Resolving an already resolved
// check-in is a conflict; that is how approval races between two staff
// sessions surface. Approval updates the customer's streak and may issue a
// reward, which is returned alongside the activity.
func (s *Store) ResolveActivity(id, staffID string, status domain.ActivityStatus, value *float64) (domain.Activity, *domain.Reward, error) {
	if !status.IsTerminal() {
		return domain.Activity{}, nil, apperrors.InvalidInput("status must be APPROVED or REJECTED")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activities[id]
	if !ok {
		return domain.Activity{}, nil, apperrors.NotFound("activity", id)
	}
	if a.Status != domain.ActivityPending {
		return domain.Activity{}, nil, apperrors.Conflict("check-in already resolved")
	}

	a.Status = status
	a.StaffID = &staffID
	if value != nil {
		a.Value = value
	}
	s.activities[id] = a

	var issued *domain.Reward
	if status == domain.ActivityApproved {
		issued = s.recordVisitLocked(a)
	}
	return a, issued, nil
}

// recordVisitLocked advances the customer's streak for the branch and issues
// a reward when the streak crosses the branch threshold. Caller holds mu.
func (s *Store) recordVisitLocked(a domain.Activity) *domain.Reward {
	branch := s.branches[a.BranchID]
	threshold := defaultThreshold
	windowDays := defaultWindowDays
	if branch.Settings != nil {
		if branch.Settings.StreakThreshold > 0 {
			threshold = branch.Settings.StreakThreshold
		}
		if branch.Settings.StreakWindowDays > 0 {
			windowDays = branch.Settings.StreakWindowDays
		}
	}

	byBranch, ok := s.progress[a.CustomerID]
	if !ok {
		byBranch = make(map[string]*visitProgress)
		s.progress[a.CustomerID] = byBranch
	}
	p, ok := byBranch[a.BranchID]
	if !ok {
		p = &visitProgress{}
		byBranch[a.BranchID] = p
	}

	now := s.now()
	window := time.Duration(windowDays) * 24 * time.Hour
	if p.streakCount == 0 || now.Sub(p.streakStart) > window {
		p.streakCount = 0
		p.streakStart = now
	}
	p.visitCount++
	p.streakCount++
	p.lastVisitAt = now

	if p.streakCount < threshold {
		return nil
	}
	p.streakCount = 0

	expiry := now.Add(rewardValidFor)
	reward := domain.Reward{
		ID:         uuid.NewString(),
		CustomerID: a.CustomerID,
		PartnerID:  branch.PartnerID,
		Status:     domain.RewardActive,
		ExpiryDate: &expiry,
		CreatedAt:  now,
	}
	if partner, ok := s.partners[branch.PartnerID]; ok {
		reward.Partner = &partner
	}
	s.rewards[reward.ID] = reward
	s.logger.Info("reward issued",
		slog.String("customer", a.CustomerID),
		slog.String("reward_id", reward.ID))
	return &reward
}

// Profile assembles the customer's own view: visit progress per store plus
// current rewards.
func (s *Store) Profile(phone string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[phone]
	if !ok {
		return domain.Profile{}, apperrors.NotFound("customer", phone)
	}

	profile := domain.Profile{Customer: c}
	for branchID, p := range s.progress[phone] {
		branch := s.branches[branchID]
		partner := s.partners[branch.PartnerID]
		sv := domain.StoreVisitProgress{
			PartnerID:   branch.PartnerID,
			PartnerName: partner.BusinessName,
			BranchID:    branchID,
			BranchName:  branch.BranchName,
			VisitCount:  p.visitCount,
			StreakCount: p.streakCount,
		}
		if !p.lastVisitAt.IsZero() {
			t := p.lastVisitAt
			sv.LastVisitAt = &t
		}
		if !p.streakStart.IsZero() {
			t := p.streakStart
			sv.StreakPeriodStart = &t
		}
		if branch.Settings != nil {
			sv.RewardThreshold = branch.Settings.StreakThreshold
			sv.RewardWindowDays = branch.Settings.StreakWindowDays
			sv.RewardDescription = branch.Settings.RewardDescription
		}
		profile.Stores = append(profile.Stores, sv)
	}
	sort.SliceStable(profile.Stores, func(i, j int) bool {
		return profile.Stores[i].BranchID < profile.Stores[j].BranchID
	})

	for _, r := range s.rewards {
		if r.CustomerID == phone && r.Status == domain.RewardActive {
			profile.Rewards = append(profile.Rewards, r)
		}
	}
	sort.SliceStable(profile.Rewards, func(i, j int) bool {
		return profile.Rewards[i].CreatedAt.Before(profile.Rewards[j].CreatedAt)
	})
	return profile, nil
}

// History returns the customer's full activity and redemption record.
func (s *Store) History(phone string) (domain.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[phone]; !ok {
		return domain.History{}, apperrors.NotFound("customer", phone)
	}

	var h domain.History
	for _, a := range s.activities {
		if a.CustomerID != phone {
			continue
		}
		if b, ok := s.branches[a.BranchID]; ok {
			branch := b
			a.Branch = &branch
			a.Partner = branch.Partner
		}
		h.Activities = append(h.Activities, a)
	}
	sort.SliceStable(h.Activities, func(i, j int) bool {
		return h.Activities[i].CreatedAt.After(h.Activities[j].CreatedAt)
	})

	for _, r := range s.rewards {
		if r.CustomerID == phone && r.Status == domain.RewardRedeemed {
			h.RedeemedRewards = append(h.RedeemedRewards, r)
		}
	}
	return h, nil
}

// RedeemReward turns an active reward into a redemption code the customer
// shows staff at the counter.
func (s *Store) RedeemReward(id, phone string) (domain.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rewards[id]
	if !ok || r.CustomerID != phone {
		return domain.Reward{}, apperrors.NotFound("reward", id)
	}
	if r.Status != domain.RewardActive {
		return domain.Reward{}, apperrors.Conflict("reward already redeemed")
	}
	if r.ExpiryDate != nil && s.now().After(*r.ExpiryDate) {
		return domain.Reward{}, apperrors.InvalidInput("reward has expired")
	}

	now := s.now()
	r.Status = domain.RewardRedeemed
	r.RedemptionCode = randomCode(6)
	r.RedeemedAt = &now
	s.rewards[id] = r
	return r, nil
}

// Rewards lists rewards for the branch's partner, for the staff redemption
// screen.
func (s *Store) Rewards(branchID string) []domain.Reward {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch := s.branches[branchID]
	out := make([]domain.Reward, 0)
	for _, r := range s.rewards {
		if r.PartnerID == branch.PartnerID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CompleteRewardByCode consumes an outstanding redemption code presented at
// the branch.
func (s *Store) CompleteRewardByCode(code, branchID string) (domain.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.rewards {
		if r.RedemptionCode != code || r.Status != domain.RewardRedeemed {
			continue
		}
		r.RedemptionCode = ""
		if b, ok := s.branches[branchID]; ok {
			branch := b
			r.RedeemedBranch = &branch
		}
		s.rewards[id] = r
		return r, nil
	}
	return domain.Reward{}, apperrors.NotFound("redemption code", code)
}

// otpFor exposes the pending code for tests in this package.
func (s *Store) otpFor(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otps[phone].code
}

func randomDigits(n int) string {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}

func randomCode(n int) string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			panic(err)
		}
		out[i] = alphabet[v.Int64()]
	}
	return string(out)
}
