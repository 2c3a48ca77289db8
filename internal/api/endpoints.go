package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Nish7156/loyalty-client/internal/domain"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
)

// OTPResponse is the result of requesting a one-time passcode. The backend
// may echo the code in non-production test mode; clients must never depend
// on it being present.
type OTPResponse struct {
	Success bool   `json:"success"`
	OTP     string `json:"otp,omitempty"`
}

// SendOTP requests a one-time passcode for the given phone number.
func (c *Client) SendOTP(ctx context.Context, phone string) (*OTPResponse, error) {
	var out OTPResponse
	err := c.do(ctx, http.MethodPost, "/auth/send-otp", map[string]string{"phone": phone}, ScopeNone, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginResult is returned by customer login and registration.
type LoginResult struct {
	AccessToken string          `json:"access_token"`
	Customer    domain.Customer `json:"customer"`
}

// CustomerLogin exchanges a verified OTP for a customer session token.
func (c *Client) CustomerLogin(ctx context.Context, phone, otp string) (*LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/customer-login",
		map[string]string{"phone": phone, "otp": otp}, ScopeNone, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterInput is the payload for first-time customer registration.
type RegisterInput struct {
	BranchID    string `json:"branchId"`
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name"`
	OTP         string `json:"otp"`
}

// RegisterCustomer registers a new customer against the branch they scanned
// and returns their session token.
func (c *Client) RegisterCustomer(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/customers/register", in, ScopeNone, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CustomerExists checks whether a customer record exists for the phone
// number. A 404 means "unknown, must register" and is not an error.
func (c *Client) CustomerExists(ctx context.Context, phone string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/customers/phone/"+url.PathEscape(phone), nil, ScopeNone, nil)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// MyProfile fetches the authenticated customer's profile.
func (c *Client) MyProfile(ctx context.Context) (*domain.Profile, error) {
	var out domain.Profile
	if err := c.do(ctx, http.MethodGet, "/customers/me/profile", nil, ScopeCustomer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyHistory fetches the authenticated customer's activity and redemption
// history.
func (c *Client) MyHistory(ctx context.Context) (*domain.History, error) {
	var out domain.History
	if err := c.do(ctx, http.MethodGet, "/customers/me/history", nil, ScopeCustomer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckInInput is the check-in submission payload. Value is omitted when the
// customer declared no amount.
type CheckInInput struct {
	BranchID     string   `json:"branchId"`
	PhoneNumber  string   `json:"phoneNumber"`
	CustomerName string   `json:"customerName,omitempty"`
	Value        *float64 `json:"value,omitempty"`
}

// CheckIn submits a check-in request and returns the created record.
func (c *Client) CheckIn(ctx context.Context, in CheckInInput) (*domain.Activity, error) {
	var out domain.Activity
	if err := c.do(ctx, http.MethodPost, "/activity/check-in", in, ScopeCustomer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListActivities fetches all check-in requests visible to the staff session.
func (c *Client) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	var out []domain.Activity
	if err := c.do(ctx, http.MethodGet, "/activity", nil, ScopeStaff, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateActivity approves or rejects a check-in, optionally overriding the
// declared amount. Staff-scoped; a lost approval race returns a conflict.
func (c *Client) UpdateActivity(ctx context.Context, id string, status domain.ActivityStatus, value *float64) (*domain.Activity, error) {
	body := map[string]any{"status": status}
	if value != nil {
		body["value"] = *value
	}
	var out domain.Activity
	if err := c.do(ctx, http.MethodPatch, "/activity/"+url.PathEscape(id), body, ScopeStaff, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RedeemReward redeems an active reward for the customer and returns it with
// the redemption code filled in.
func (c *Client) RedeemReward(ctx context.Context, id string) (*domain.Reward, error) {
	var out domain.Reward
	path := fmt.Sprintf("/rewards/%s/redeem", url.PathEscape(id))
	if err := c.do(ctx, http.MethodPatch, path, nil, ScopeCustomer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRewards fetches the rewards visible to the staff session.
func (c *Client) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	var out []domain.Reward
	if err := c.do(ctx, http.MethodGet, "/rewards", nil, ScopeStaff, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteRewardByCode marks the reward matching a customer-presented code
// as complete. Staff-scoped.
func (c *Client) CompleteRewardByCode(ctx context.Context, code string) (*domain.Reward, error) {
	var out domain.Reward
	err := c.do(ctx, http.MethodPost, "/rewards/complete-by-code",
		map[string]string{"code": code}, ScopeStaff, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Branch fetches a branch with its settings and owning partner.
func (c *Client) Branch(ctx context.Context, id string) (*domain.Branch, error) {
	var out domain.Branch
	if err := c.do(ctx, http.MethodGet, "/branches/"+url.PathEscape(id), nil, ScopeNone, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StaffLoginResult is returned by the staff/owner/admin login endpoint.
type StaffLoginResult struct {
	AccessToken string `json:"access_token"`
	Staff       *struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		BranchID string `json:"branchId"`
	} `json:"staff,omitempty"`
	User *struct {
		ID    string `json:"id"`
		Phone string `json:"phone"`
		Role  string `json:"role"`
	} `json:"user,omitempty"`
}

// StaffLogin exchanges a verified OTP for a staff, owner or admin session.
func (c *Client) StaffLogin(ctx context.Context, phone, otp string) (*StaffLoginResult, error) {
	var out StaffLoginResult
	err := c.do(ctx, http.MethodPost, "/auth/login",
		map[string]string{"phone": phone, "otp": otp}, ScopeNone, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// IsNotFound reports whether err maps to a 404.
func IsNotFound(err error) bool {
	return err != nil && apperrors.HTTPStatus(err) == http.StatusNotFound
}

// IsConflict reports whether err maps to a 409 (e.g. an approval race lost
// to another staff session).
func IsConflict(err error) bool {
	return err != nil && apperrors.HTTPStatus(err) == http.StatusConflict
}
