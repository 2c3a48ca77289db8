package checkin

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Nish7156/loyalty-client/internal/api"
	"github.com/Nish7156/loyalty-client/internal/domain"
	"github.com/Nish7156/loyalty-client/internal/realtime"
	"github.com/Nish7156/loyalty-client/internal/tokenstore"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) SendOTP(ctx context.Context, phone string) (*api.OTPResponse, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.OTPResponse), args.Error(1)
}

func (m *mockBackend) CustomerLogin(ctx context.Context, phone, otp string) (*api.LoginResult, error) {
	args := m.Called(ctx, phone, otp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.LoginResult), args.Error(1)
}

func (m *mockBackend) RegisterCustomer(ctx context.Context, in api.RegisterInput) (*api.LoginResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.LoginResult), args.Error(1)
}

func (m *mockBackend) CustomerExists(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

func (m *mockBackend) CheckIn(ctx context.Context, in api.CheckInInput) (*domain.Activity, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Activity), args.Error(1)
}

func (m *mockBackend) RedeemReward(ctx context.Context, id string) (*domain.Reward, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reward), args.Error(1)
}

func (m *mockBackend) MyProfile(ctx context.Context) (*domain.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

// fakeClock is an adjustable clock for cooldown tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBranch() domain.Branch {
	return domain.Branch{
		ID:         "branch-1",
		BranchName: "Koramangala",
		PartnerID:  "partner-1",
		Settings:  &domain.BranchSettings{MinCheckInAmount: 100},
	}
}

func newTestMachine(t *testing.T, backend Backend, cfg Config) (*Machine, *tokenstore.Store) {
	t.Helper()
	store, err := tokenstore.Open(filepath.Join(t.TempDir(), "state.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := New(backend, store, testBranch(), cfg)
	t.Cleanup(m.Close)
	return m, store
}

func TestSubmitPhone_KnownCustomerSkipsOTP(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, "+919876543210").Return(true, nil)

	m, store := newTestMachine(t, backend, Config{})

	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	assert.Equal(t, StateCheckinForm, m.State())
	assert.Equal(t, "+919876543210", m.Identity())
	backend.AssertNotCalled(t, "SendOTP", mock.Anything, mock.Anything)

	phone, ok := store.LastPhone()
	require.True(t, ok)
	assert.Equal(t, "+919876543210", phone)
}

func TestSubmitPhone_UnknownCustomerStartsRegistration(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, "+919876543210").Return(false, nil)
	backend.On("SendOTP", mock.Anything, "+919876543210").Return(&api.OTPResponse{Success: true}, nil).Once()

	m, _ := newTestMachine(t, backend, Config{})

	require.NoError(t, m.SubmitPhone(context.Background(), "98765 43210"))

	assert.Equal(t, StateOTPEntry, m.State())
	assert.Equal(t, OTPModeRegister, m.Mode())
	assert.Equal(t, 60, m.ResendSecondsLeft())
	backend.AssertExpectations(t)
}

func TestSubmitPhone_RejectsInvalidNumberLocally(t *testing.T) {
	backend := new(mockBackend)
	m, _ := newTestMachine(t, backend, Config{})

	err := m.SubmitPhone(context.Background(), "12ab")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, StatePhoneEntry, m.State())
	backend.AssertNotCalled(t, "CustomerExists", mock.Anything, mock.Anything)
}

func TestSubmitPhone_LookupFailureLeavesStateForRetry(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).
		Return(false, errors.New("connection refused")).Once()
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil).Once()

	m, _ := newTestMachine(t, backend, Config{})

	require.Error(t, m.SubmitPhone(context.Background(), "9876543210"))
	assert.Equal(t, StatePhoneEntry, m.State())

	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))
	assert.Equal(t, StateCheckinForm, m.State())
}

func TestSubmitOTP_RegisterValidatesNameBeforeNetwork(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(false, nil)
	backend.On("SendOTP", mock.Anything, mock.Anything).Return(&api.OTPResponse{Success: true}, nil)

	m, _ := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	err := m.SubmitOTP(context.Background(), "123456", "A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, StateOTPEntry, m.State())
	backend.AssertNotCalled(t, "RegisterCustomer", mock.Anything, mock.Anything)
}

func TestSubmitOTP_RegisterSuccess(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(false, nil)
	backend.On("SendOTP", mock.Anything, mock.Anything).Return(&api.OTPResponse{Success: true}, nil)
	backend.On("RegisterCustomer", mock.Anything, api.RegisterInput{
		BranchID:    "branch-1",
		PhoneNumber: "+919876543210",
		Name:        "Asha",
		OTP:         "123456",
	}).Return(&api.LoginResult{
		AccessToken: "tok-123",
		Customer:    domain.Customer{PhoneNumber: "+919876543210", Name: "Asha"},
	}, nil)

	m, store := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))
	require.NoError(t, m.SubmitOTP(context.Background(), "123456", "  Asha  "))

	assert.Equal(t, StateCheckinForm, m.State())
	assert.Equal(t, "Asha", m.Identity())
	assert.Zero(t, m.ResendSecondsLeft())

	tok, ok := store.Token(tokenstore.KindCustomer)
	require.True(t, ok)
	assert.Equal(t, "tok-123", tok)
}

func TestSubmitOTP_WrongCodeKeepsOTPEntry(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(false, nil)
	backend.On("SendOTP", mock.Anything, mock.Anything).Return(&api.OTPResponse{Success: true}, nil)
	backend.On("RegisterCustomer", mock.Anything, mock.Anything).
		Return(nil, apperrors.InvalidInput("invalid or expired OTP"))

	m, store := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	require.Error(t, m.SubmitOTP(context.Background(), "000000", "Asha"))
	assert.Equal(t, StateOTPEntry, m.State())

	_, ok := store.Token(tokenstore.KindCustomer)
	assert.False(t, ok)
}

func TestStayLoggedIn_LoginFlow(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)
	backend.On("SendOTP", mock.Anything, "+919876543210").Return(&api.OTPResponse{Success: true}, nil).Once()
	backend.On("CustomerLogin", mock.Anything, "+919876543210", "654321").Return(&api.LoginResult{
		AccessToken: "tok-login",
		Customer:    domain.Customer{PhoneNumber: "+919876543210", Name: "Ravi"},
	}, nil)

	m, store := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))
	require.NoError(t, m.RequestStayLoggedIn(context.Background()))

	assert.Equal(t, StateOTPEntry, m.State())
	assert.Equal(t, OTPModeLogin, m.Mode())

	require.NoError(t, m.SubmitOTP(context.Background(), "654321", ""))
	assert.Equal(t, StateCheckinForm, m.State())
	assert.Equal(t, "Ravi", m.Identity())

	tok, ok := store.Token(tokenstore.KindCustomer)
	require.True(t, ok)
	assert.Equal(t, "tok-login", tok)
	backend.AssertExpectations(t)
}

func TestResendOTP_CooldownUsesAbsoluteDeadline(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(false, nil)
	backend.On("SendOTP", mock.Anything, mock.Anything).Return(&api.OTPResponse{Success: true}, nil)

	m, _ := newTestMachine(t, backend, Config{Now: clock.Now})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	err := m.ResendOTP(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, 60, m.ResendSecondsLeft())

	// A long suspension burns the whole cooldown in one observation.
	clock.Advance(45 * time.Second)
	assert.Equal(t, 15, m.ResendSecondsLeft())

	clock.Advance(15 * time.Second)
	assert.Zero(t, m.ResendSecondsLeft())
	require.NoError(t, m.ResendOTP(context.Background()))

	// A successful resend arms a fresh deadline.
	assert.Equal(t, 60, m.ResendSecondsLeft())
	backend.AssertNumberOfCalls(t, "SendOTP", 2)
}

func TestChangeNumber_AbandonsChallenge(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(false, nil)
	backend.On("SendOTP", mock.Anything, mock.Anything).Return(&api.OTPResponse{Success: true}, nil)

	m, _ := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	require.NoError(t, m.ChangeNumber())
	assert.Equal(t, StatePhoneEntry, m.State())
	assert.Zero(t, m.ResendSecondsLeft())
}

func TestSubmitCheckIn_AmountGate(t *testing.T) {
	cases := []struct {
		name      string
		amount    string
		submits   bool
		wantValue *float64
	}{
		{name: "empty amount always passes", amount: "", submits: true, wantValue: nil},
		{name: "zero passes", amount: "0", submits: true, wantValue: ptr(0.0)},
		{name: "at minimum passes", amount: "100", submits: true, wantValue: ptr(100.0)},
		{name: "above minimum passes", amount: "250.50", submits: true, wantValue: ptr(250.5)},
		{name: "below minimum rejected", amount: "99.99", submits: false},
		{name: "negative rejected", amount: "-5", submits: false},
		{name: "garbage rejected", amount: "lots", submits: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := new(mockBackend)
			backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)
			if tc.submits {
				backend.On("CheckIn", mock.Anything, api.CheckInInput{
					BranchID:    "branch-1",
					PhoneNumber: "+919876543210",
					Value:       tc.wantValue,
				}).Return(&domain.Activity{ID: "act-1", Status: domain.ActivityPending}, nil)
			}

			m, _ := newTestMachine(t, backend, Config{})
			require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

			err := m.SubmitCheckIn(context.Background(), tc.amount)
			if tc.submits {
				require.NoError(t, err)
				assert.Equal(t, StateAwaitingApproval, m.State())
				assert.Equal(t, "act-1", m.ActivityID())
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
				assert.Equal(t, StateCheckinForm, m.State())
				backend.AssertNotCalled(t, "CheckIn", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestApplyEvent_ApprovalCelebratesThenNavigates(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)
	backend.On("CheckIn", mock.Anything, mock.Anything).
		Return(&domain.Activity{ID: "act-1", Status: domain.ActivityPending}, nil)

	navigated := make(chan struct{})
	m, _ := newTestMachine(t, backend, Config{
		CelebrateDelay:    10 * time.Millisecond,
		OnNavigateProfile: func() { close(navigated) },
	})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))
	require.NoError(t, m.SubmitCheckIn(context.Background(), ""))

	// An update for somebody else's check-in must not resolve ours.
	m.ApplyEvent(realtime.Event{
		Kind:   realtime.KindCheckinUpdated,
		Update: &domain.StatusUpdate{ID: "act-other", Status: domain.ActivityApproved},
	})
	assert.Equal(t, StateAwaitingApproval, m.State())

	m.ApplyEvent(realtime.Event{
		Kind:   realtime.KindCheckinUpdated,
		Update: &domain.StatusUpdate{ID: "act-1", Status: domain.ActivityApproved},
	})
	assert.Equal(t, StateResolvedApproved, m.State())

	select {
	case <-navigated:
	case <-time.After(time.Second):
		t.Fatal("auto-navigation after approval never fired")
	}

	// Late duplicates are no-ops once resolved.
	m.ApplyEvent(realtime.Event{
		Kind:   realtime.KindCheckinUpdated,
		Update: &domain.StatusUpdate{ID: "act-1", Status: domain.ActivityRejected},
	})
	assert.Equal(t, StateResolvedApproved, m.State())
}

func TestApplyEvent_RejectionSkipsCelebration(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)
	backend.On("CheckIn", mock.Anything, mock.Anything).
		Return(&domain.Activity{ID: "act-1", Status: domain.ActivityPending}, nil)

	var navigated bool
	m, _ := newTestMachine(t, backend, Config{
		CelebrateDelay:    5 * time.Millisecond,
		OnNavigateProfile: func() { navigated = true },
	})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))
	require.NoError(t, m.SubmitCheckIn(context.Background(), ""))

	m.ApplyEvent(realtime.Event{
		Kind:   realtime.KindCheckinUpdated,
		Update: &domain.StatusUpdate{ID: "act-1", Status: domain.ActivityRejected},
	})
	assert.Equal(t, StateResolvedRejected, m.State())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, navigated)
}

func TestAnotherCheckIn_ReentersForm(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)
	backend.On("CheckIn", mock.Anything, mock.Anything).
		Return(&domain.Activity{ID: "act-1", Status: domain.ActivityPending}, nil)

	m, _ := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	// Not legal from the form itself.
	require.ErrorIs(t, m.AnotherCheckIn(), ErrInvalidTransition)

	require.NoError(t, m.SubmitCheckIn(context.Background(), ""))
	m.ApplyEvent(realtime.Event{
		Kind:   realtime.KindCheckinUpdated,
		Update: &domain.StatusUpdate{ID: "act-1", Status: domain.ActivityApproved},
	})

	require.NoError(t, m.AnotherCheckIn())
	assert.Equal(t, StateCheckinForm, m.State())
	assert.Empty(t, m.ActivityID())
}

func TestStart_ResumesStoredSession(t *testing.T) {
	backend := new(mockBackend)
	backend.On("MyProfile", mock.Anything).Return(&domain.Profile{
		Customer: domain.Customer{PhoneNumber: "+919876543210", Name: "Asha"},
	}, nil)

	m, store := newTestMachine(t, backend, Config{})
	require.NoError(t, store.SetCustomerToken("tok-123"))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateCheckinForm, m.State())
	assert.Equal(t, "Asha", m.Identity())
	backend.AssertNotCalled(t, "CustomerExists", mock.Anything, mock.Anything)
	backend.AssertNotCalled(t, "SendOTP", mock.Anything, mock.Anything)
}

func TestStart_NoTokenStaysOnPhoneEntry(t *testing.T) {
	backend := new(mockBackend)
	m, _ := newTestMachine(t, backend, Config{})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StatePhoneEntry, m.State())
	backend.AssertNotCalled(t, "MyProfile", mock.Anything)
}

func TestStart_StaleSessionFallsBackSilently(t *testing.T) {
	backend := new(mockBackend)
	backend.On("MyProfile", mock.Anything).
		Return(nil, apperrors.SessionExpired("session expired, please verify your number again"))

	m, store := newTestMachine(t, backend, Config{})
	require.NoError(t, store.SetCustomerToken("tok-stale"))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StatePhoneEntry, m.State())
}

func TestSubmitCheckIn_SessionExpiryHardResets(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)
	backend.On("CheckIn", mock.Anything, mock.Anything).
		Return(nil, apperrors.SessionExpired("session expired, please verify your number again"))

	m, _ := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	err := m.SubmitCheckIn(context.Background(), "")
	require.Error(t, err)
	assert.True(t, api.IsSessionExpired(err))
	assert.Equal(t, StatePhoneEntry, m.State())
	assert.Empty(t, m.Identity())
}

func TestRedeemReward_InlineFromForm(t *testing.T) {
	active := domain.Reward{ID: "rw-1", PartnerID: "partner-1", Status: domain.RewardActive}
	redeemed := active
	redeemed.Status = domain.RewardRedeemed
	redeemed.RedemptionCode = "ABC123"

	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)
	backend.On("MyProfile", mock.Anything).Return(&domain.Profile{
		Customer: domain.Customer{PhoneNumber: "+919876543210"},
		Rewards:  []domain.Reward{active},
	}, nil).Once()
	backend.On("RedeemReward", mock.Anything, "rw-1").Return(&redeemed, nil)
	backend.On("MyProfile", mock.Anything).Return(&domain.Profile{
		Customer: domain.Customer{PhoneNumber: "+919876543210"},
		Rewards:  []domain.Reward{redeemed},
	}, nil).Once()

	m, _ := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))
	require.NoError(t, m.RefreshProfile(context.Background()))
	require.NotNil(t, m.ActiveReward())

	code, err := m.RedeemReward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC123", code)

	// After the refetch the reward is spent.
	assert.Nil(t, m.ActiveReward())
	assert.Equal(t, StateCheckinForm, m.State())
}

func TestRedeemReward_NoActiveReward(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)

	m, _ := newTestMachine(t, backend, Config{})
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	_, err := m.RedeemReward(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	backend.AssertNotCalled(t, "RedeemReward", mock.Anything, mock.Anything)
}

func TestLogout_ClearsTokenAndResets(t *testing.T) {
	backend := new(mockBackend)
	backend.On("CustomerExists", mock.Anything, mock.Anything).Return(true, nil)

	m, store := newTestMachine(t, backend, Config{})
	require.NoError(t, store.SetCustomerToken("tok-123"))
	require.NoError(t, m.SubmitPhone(context.Background(), "9876543210"))

	m.Logout()
	assert.Equal(t, StatePhoneEntry, m.State())
	_, ok := store.Token(tokenstore.KindCustomer)
	assert.False(t, ok)
}

func TestEnsure_RejectsOutOfOrderCalls(t *testing.T) {
	backend := new(mockBackend)
	m, _ := newTestMachine(t, backend, Config{})

	assert.ErrorIs(t, m.SubmitCheckIn(context.Background(), "100"), ErrInvalidTransition)
	assert.ErrorIs(t, m.SubmitOTP(context.Background(), "123456", "Asha"), ErrInvalidTransition)
	assert.ErrorIs(t, m.ResendOTP(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, m.RequestStayLoggedIn(context.Background()), ErrInvalidTransition)
}

func ptr(v float64) *float64 { return &v }
