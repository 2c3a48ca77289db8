// Package checkin drives a customer from an anonymous store-QR scan through
// phone verification, registration or login, check-in submission and
// staff-approval resolution, with inline reward redemption along the way.
//
// The workflow is an explicit finite-state machine: every operation checks
// the current state and either performs its single legal transition or
// returns an error leaving the state untouched, so a failed step can always
// be retried in place.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Nish7156/loyalty-client/internal/api"
	"github.com/Nish7156/loyalty-client/internal/domain"
	"github.com/Nish7156/loyalty-client/internal/realtime"
	"github.com/Nish7156/loyalty-client/internal/tokenstore"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
	"github.com/Nish7156/loyalty-client/pkg/validator"
)

// State is a workflow position. Transitions outside the table below are
// rejected with ErrInvalidTransition.
type State string

const (
	StatePhoneEntry       State = "PHONE_ENTRY"
	StateOTPEntry         State = "OTP_ENTRY"
	StateCheckinForm      State = "CHECKIN_FORM"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateResolvedApproved State = "RESOLVED_APPROVED"
	StateResolvedRejected State = "RESOLVED_REJECTED"
)

// OTPMode distinguishes why the OTP screen is showing.
type OTPMode string

const (
	OTPModeRegister OTPMode = "REGISTER"
	OTPModeLogin    OTPMode = "LOGIN"
)

// ErrInvalidTransition is returned when an operation is called in a state it
// is not legal in.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// Backend is the slice of the REST API the workflow needs. *api.Client
// satisfies it.
type Backend interface {
	SendOTP(ctx context.Context, phone string) (*api.OTPResponse, error)
	CustomerLogin(ctx context.Context, phone, otp string) (*api.LoginResult, error)
	RegisterCustomer(ctx context.Context, in api.RegisterInput) (*api.LoginResult, error)
	CustomerExists(ctx context.Context, phone string) (bool, error)
	CheckIn(ctx context.Context, in api.CheckInInput) (*domain.Activity, error)
	RedeemReward(ctx context.Context, id string) (*domain.Reward, error)
	MyProfile(ctx context.Context) (*domain.Profile, error)
}

// Config tunes a Machine. Zero values get sensible defaults.
type Config struct {
	// ResendCooldown is the lockout between OTP sends. Defaults to 60s.
	ResendCooldown time.Duration

	// CelebrateDelay is how long the approval celebration shows before
	// auto-navigating to the profile. Defaults to 2.2s.
	CelebrateDelay time.Duration

	// Now is the clock; defaults to time.Now. The resend cooldown is a pure
	// comparison against an absolute deadline, so remaining time stays
	// correct across suspensions.
	Now func() time.Time

	// OnNavigateProfile fires after the celebration delay following an
	// approval. Cancelled by Close.
	OnNavigateProfile func()

	Logger *slog.Logger
}

// Machine is the check-in workflow for one scanned branch.
type Machine struct {
	backend Backend
	tokens  *tokenstore.Store
	branch  domain.Branch
	cfg     Config

	mu             sync.Mutex
	state          State
	mode           OTPMode
	phone          string
	pendingName    string
	customer       domain.Customer
	profile        *domain.Profile
	resendDeadline time.Time
	activityID     string
	celebrate      *time.Timer
}

// New creates a Machine in PHONE_ENTRY for the given branch. Call Start to
// resume an existing customer session, if any.
func New(backend Backend, tokens *tokenstore.Store, branch domain.Branch, cfg Config) *Machine {
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = 60 * time.Second
	}
	if cfg.CelebrateDelay <= 0 {
		cfg.CelebrateDelay = 2200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Machine{
		backend: backend,
		tokens:  tokens,
		branch:  branch,
		cfg:     cfg,
		state:   StatePhoneEntry,
	}
}

// State returns the current workflow state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mode returns the OTP mode; meaningful only in OTP_ENTRY.
func (m *Machine) Mode() OTPMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Identity returns the display identity for the check-in form: the
// customer's registered name when known, else their phone number.
func (m *Machine) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.customer.Name != "" {
		return m.customer.Name
	}
	return m.phone
}

// Phone returns the normalized phone number for the current flow; it is the
// customer id the realtime channel subscribes on.
func (m *Machine) Phone() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phone
}

// ActivityID returns the id of the submitted check-in, if any.
func (m *Machine) ActivityID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activityID
}

// Profile returns the last fetched customer profile, or nil.
func (m *Machine) Profile() *domain.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// Start resumes a stored customer session: with a valid token the phone
// entry step is skipped entirely and the stored identity is used. Without a
// token, or when the stored session turns out to be stale, the machine stays
// in PHONE_ENTRY.
func (m *Machine) Start(ctx context.Context) error {
	if _, ok := m.tokens.Token(tokenstore.KindCustomer); !ok {
		return nil
	}

	profile, err := m.backend.MyProfile(ctx)
	if err != nil {
		if api.IsSessionExpired(err) {
			// Token already cleared by the API client; phone entry it is.
			return nil
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = profile
	m.customer = profile.Customer
	m.phone = profile.Customer.PhoneNumber
	m.state = StateCheckinForm
	return nil
}

type phoneInput struct {
	Phone string `validate:"required,e164"`
}

// SubmitPhone resolves the entered phone number: a known customer goes
// straight to the check-in form with no OTP friction; an unknown one gets an
// OTP and the registration flow.
func (m *Machine) SubmitPhone(ctx context.Context, raw string) error {
	if err := m.ensure(StatePhoneEntry); err != nil {
		return err
	}

	phone := domain.NormalizePhone(raw)
	if err := validator.Validate(phoneInput{Phone: phone}); err != nil {
		return apperrors.InvalidInput("enter a valid phone number")
	}

	exists, err := m.backend.CustomerExists(ctx, phone)
	if err != nil {
		return err
	}

	if exists {
		m.mu.Lock()
		m.phone = phone
		m.customer = domain.Customer{PhoneNumber: phone}
		m.state = StateCheckinForm
		m.mu.Unlock()
		m.rememberPhone(phone)
		return nil
	}

	if _, err := m.backend.SendOTP(ctx, phone); err != nil {
		return err
	}

	m.mu.Lock()
	m.phone = phone
	m.mode = OTPModeRegister
	m.state = StateOTPEntry
	m.resendDeadline = m.cfg.Now().Add(m.cfg.ResendCooldown)
	m.mu.Unlock()
	m.rememberPhone(phone)
	return nil
}

// RequestStayLoggedIn starts the "stay logged in" OTP flow from the check-in
// form, so a looked-up customer can turn their visit into a durable session.
func (m *Machine) RequestStayLoggedIn(ctx context.Context) error {
	if err := m.ensure(StateCheckinForm); err != nil {
		return err
	}

	m.mu.Lock()
	phone := m.phone
	m.mu.Unlock()

	if _, err := m.backend.SendOTP(ctx, phone); err != nil {
		return err
	}

	m.mu.Lock()
	m.mode = OTPModeLogin
	m.state = StateOTPEntry
	m.resendDeadline = m.cfg.Now().Add(m.cfg.ResendCooldown)
	m.mu.Unlock()
	return nil
}

type registrationInput struct {
	Name string `validate:"required,min=2,max=200"`
	OTP  string `validate:"required"`
}

// SubmitOTP verifies the code. In register mode name is the display name the
// customer registers under; it is validated locally before any network call.
// A rejected code leaves the machine in OTP_ENTRY for retry or resend.
func (m *Machine) SubmitOTP(ctx context.Context, code, name string) error {
	if err := m.ensure(StateOTPEntry); err != nil {
		return err
	}

	m.mu.Lock()
	mode := m.mode
	phone := m.phone
	m.mu.Unlock()

	var result *api.LoginResult
	var err error

	switch mode {
	case OTPModeRegister:
		name = strings.TrimSpace(name)
		if verr := validator.Validate(registrationInput{Name: name, OTP: code}); verr != nil {
			return apperrors.InvalidInput(verr.Error())
		}
		result, err = m.backend.RegisterCustomer(ctx, api.RegisterInput{
			BranchID:    m.branch.ID,
			PhoneNumber: phone,
			Name:        name,
			OTP:         code,
		})
	default:
		if strings.TrimSpace(code) == "" {
			return apperrors.InvalidInput("enter the code sent to your phone")
		}
		result, err = m.backend.CustomerLogin(ctx, phone, code)
	}
	if err != nil {
		return err
	}

	if err := m.tokens.SetCustomerToken(result.AccessToken); err != nil {
		m.cfg.Logger.Warn("failed to persist customer token", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.customer = result.Customer
	if m.customer.PhoneNumber == "" {
		m.customer.PhoneNumber = phone
	}
	if mode == OTPModeRegister && m.customer.Name == "" {
		m.customer.Name = name
	}
	m.resendDeadline = time.Time{} // challenge consumed
	m.state = StateCheckinForm
	m.mu.Unlock()
	return nil
}

// ResendOTP requests a fresh code. Refused while the cooldown deadline is in
// the future.
func (m *Machine) ResendOTP(ctx context.Context) error {
	if err := m.ensure(StateOTPEntry); err != nil {
		return err
	}

	if left := m.ResendSecondsLeft(); left > 0 {
		return apperrors.InvalidInput(fmt.Sprintf("wait %ds before requesting another code", left))
	}

	m.mu.Lock()
	phone := m.phone
	m.mu.Unlock()

	if _, err := m.backend.SendOTP(ctx, phone); err != nil {
		return err
	}

	m.mu.Lock()
	m.resendDeadline = m.cfg.Now().Add(m.cfg.ResendCooldown)
	m.mu.Unlock()
	return nil
}

// ResendSecondsLeft recomputes the remaining cooldown from the absolute
// deadline on every call, so it stays correct even if the caller was
// suspended between ticks.
func (m *Machine) ResendSecondsLeft() int {
	m.mu.Lock()
	deadline := m.resendDeadline
	m.mu.Unlock()

	if deadline.IsZero() {
		return 0
	}
	left := deadline.Sub(m.cfg.Now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// ChangeNumber abandons the current OTP challenge and returns to phone
// entry.
func (m *Machine) ChangeNumber() error {
	if err := m.ensure(StateOTPEntry); err != nil {
		return err
	}

	m.mu.Lock()
	m.resendDeadline = time.Time{}
	m.mode = ""
	m.state = StatePhoneEntry
	m.mu.Unlock()
	return nil
}

// SubmitCheckIn validates and submits the check-in. An empty amount means no
// amount declared and always passes; a nonzero amount below the branch
// minimum is rejected locally before any network call.
func (m *Machine) SubmitCheckIn(ctx context.Context, amount string) error {
	if err := m.ensure(StateCheckinForm); err != nil {
		return err
	}

	value, err := m.parseAmount(amount)
	if err != nil {
		return err
	}

	m.mu.Lock()
	in := api.CheckInInput{
		BranchID:     m.branch.ID,
		PhoneNumber:  m.phone,
		CustomerName: m.customer.Name,
		Value:        value,
	}
	m.mu.Unlock()

	activity, err := m.backend.CheckIn(ctx, in)
	if err != nil {
		if api.IsSessionExpired(err) {
			m.Reset()
		}
		return err
	}

	m.mu.Lock()
	m.activityID = activity.ID
	m.state = StateAwaitingApproval
	m.mu.Unlock()
	return nil
}

func (m *Machine) parseAmount(amount string) (*float64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(amount, 64)
	if err != nil || v < 0 {
		return nil, apperrors.InvalidInput("enter a valid amount")
	}

	if min := m.branch.MinCheckInAmount(); v > 0 && v < min {
		return nil, apperrors.InvalidInput(fmt.Sprintf("minimum check-in amount is %g", min))
	}
	return &v, nil
}

// ApplyEvent feeds a realtime event into the workflow. Only a status update
// for the submitted check-in id moves the machine; everything else is
// ignored, and duplicate or late events are no-ops.
func (m *Machine) ApplyEvent(ev realtime.Event) {
	if ev.Kind != realtime.KindCheckinUpdated || ev.Update == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingApproval || ev.Update.ID != m.activityID {
		return
	}

	switch ev.Update.Status {
	case domain.ActivityApproved:
		m.state = StateResolvedApproved
		if m.cfg.OnNavigateProfile != nil {
			m.celebrate = time.AfterFunc(m.cfg.CelebrateDelay, m.cfg.OnNavigateProfile)
		}
	case domain.ActivityRejected:
		m.state = StateResolvedRejected
	}
}

// AnotherCheckIn re-enters the check-in form from a resolved state.
func (m *Machine) AnotherCheckIn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateResolvedApproved && m.state != StateResolvedRejected {
		return fmt.Errorf("%w: another check-in from %s", ErrInvalidTransition, m.state)
	}

	m.stopCelebrateLocked()
	m.activityID = ""
	m.state = StateCheckinForm
	return nil
}

// RefreshProfile refetches the customer profile, e.g. after a redemption.
func (m *Machine) RefreshProfile(ctx context.Context) error {
	profile, err := m.backend.MyProfile(ctx)
	if err != nil {
		if api.IsSessionExpired(err) {
			m.Reset()
		}
		return err
	}

	m.mu.Lock()
	m.profile = profile
	m.mu.Unlock()
	return nil
}

// ActiveReward returns the customer's redeemable reward for this branch's
// partner, if the profile holds one.
func (m *Machine) ActiveReward() *domain.Reward {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	return m.profile.ActiveRewardFor(m.branch.PartnerID)
}

// RedeemReward redeems the active reward inline from the check-in form and
// returns the code to show staff. The profile is refetched so the reward
// state on screen is current. Independent of check-in submission.
func (m *Machine) RedeemReward(ctx context.Context) (string, error) {
	if err := m.ensure(StateCheckinForm); err != nil {
		return "", err
	}

	reward := m.ActiveReward()
	if reward == nil {
		return "", apperrors.NotFound("active reward for partner", m.branch.PartnerID)
	}

	redeemed, err := m.backend.RedeemReward(ctx, reward.ID)
	if err != nil {
		if api.IsSessionExpired(err) {
			m.Reset()
		}
		return "", err
	}

	// Best effort: the code is already in hand even if the refetch fails.
	if err := m.RefreshProfile(ctx); err != nil {
		m.cfg.Logger.Warn("profile refetch after redemption failed", slog.String("error", err.Error()))
	}

	return redeemed.RedemptionCode, nil
}

// Logout clears the customer session and returns to phone entry.
func (m *Machine) Logout() {
	if err := m.tokens.Clear(tokenstore.KindCustomer); err != nil {
		m.cfg.Logger.Warn("failed to clear customer token", slog.String("error", err.Error()))
	}
	m.Reset()
}

// Reset hard-resets to PHONE_ENTRY regardless of state. Wired to the API
// client's session-expired handler so a revoked token can never leave an
// authenticated screen showing.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCelebrateLocked()
	m.state = StatePhoneEntry
	m.mode = ""
	m.customer = domain.Customer{}
	m.profile = nil
	m.activityID = ""
	m.resendDeadline = time.Time{}
}

// Close cancels the pending celebration timer. Call when the owning screen
// unmounts.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCelebrateLocked()
}

func (m *Machine) stopCelebrateLocked() {
	if m.celebrate != nil {
		m.celebrate.Stop()
		m.celebrate = nil
	}
}

func (m *Machine) ensure(want State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != want {
		return fmt.Errorf("%w: need %s, in %s", ErrInvalidTransition, want, m.state)
	}
	return nil
}

func (m *Machine) rememberPhone(phone string) {
	if err := m.tokens.SetLastPhone(phone); err != nil {
		m.cfg.Logger.Warn("failed to remember phone", slog.String("error", err.Error()))
	}
}
