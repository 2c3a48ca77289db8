package simulator

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nish7156/loyalty-client/internal/domain"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
	"github.com/Nish7156/loyalty-client/pkg/httputil"
	"github.com/Nish7156/loyalty-client/pkg/middleware"
	"github.com/Nish7156/loyalty-client/pkg/validator"
)

// Config tunes the simulator server.
type Config struct {
	JWTSecret      string        `env:"SIM_JWT_SECRET" envDefault:"dev-only-secret"`
	TokenTTL       time.Duration `env:"SIM_TOKEN_TTL" envDefault:"24h"`
	AllowedOrigins []string      `env:"SIM_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Server is the simulated loyalty backend: REST API, websocket push and
// metrics on one router.
type Server struct {
	store  *Store
	hub    *Hub
	issuer *tokenIssuer
	logger *slog.Logger
	router chi.Router
}

func NewServer(store *Store, hub *Hub, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		hub:    hub,
		issuer: newTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLog(logger))
	r.Use(middleware.PrometheusMetrics("loyalty-sim"))
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", hub.ServeHTTP)

	r.Post("/auth/send-otp", s.handleSendOTP)
	r.Post("/auth/customer-login", s.handleCustomerLogin)
	r.Post("/auth/login", s.handleStaffLogin)
	r.Post("/customers/register", s.handleRegister)
	r.Get("/customers/phone/{phone}", s.handleCustomerByPhone)
	r.Get("/branches/{id}", s.handleBranch)

	// Check-in works for returning customers who never logged in on this
	// device, so the token is optional; holders of one must be customers.
	r.With(middleware.OptionalAuth(s.issuer.validate)).
		Post("/activity/check-in", s.handleCheckIn)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.issuer.validate))
		r.Use(middleware.RequireRole(roleCustomer))
		r.Get("/customers/me/profile", s.handleProfile)
		r.Get("/customers/me/history", s.handleHistory)
		r.Patch("/rewards/{id}/redeem", s.handleRedeemReward)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.issuer.validate))
		r.Use(middleware.RequireRole(roleStaff))
		r.Get("/activity", s.handleListActivities)
		r.Patch("/activity/{id}", s.handleResolveActivity)
		r.Get("/rewards", s.handleListRewards)
		r.Post("/rewards/complete-by-code", s.handleCompleteByCode)
	})

	s.router = r
	return s
}

// Handler returns the root handler for an http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

type sendOTPRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := s.store.IssueOTP(req.Phone); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	// The code travels out of band (SMS in production, the log here).
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type loginRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	OTP   string `json:"otp" validate:"required"`
}

func (s *Server) handleCustomerLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := s.store.VerifyOTP(req.Phone, req.OTP); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	customer, ok := s.store.Customer(req.Phone)
	if !ok {
		httputil.WriteError(w, r, apperrors.NotFound("customer", req.Phone), s.logger)
		return
	}

	token, err := s.issuer.issue(customer.PhoneNumber, roleCustomer, "")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"customer":     customer,
	})
}

func (s *Server) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := s.store.VerifyOTP(req.Phone, req.OTP); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	staff, ok := s.store.StaffByPhone(req.Phone)
	if !ok {
		httputil.WriteError(w, r, apperrors.NotFound("staff", req.Phone), s.logger)
		return
	}

	token, err := s.issuer.issue(staff.ID, roleStaff, staff.BranchID)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"staff":        staff,
	})
}

type registerRequest struct {
	BranchID    string `json:"branchId" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"required,e164"`
	Name        string `json:"name" validate:"required,min=2,max=200"`
	OTP         string `json:"otp" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := s.store.VerifyOTP(req.PhoneNumber, req.OTP); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	if _, err := s.store.Branch(req.BranchID); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	customer, err := s.store.RegisterCustomer(req.PhoneNumber, req.Name)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	token, err := s.issuer.issue(customer.PhoneNumber, roleCustomer, "")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"access_token": token,
		"customer":     customer,
	})
}

func (s *Server) handleCustomerByPhone(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	customer, ok := s.store.Customer(phone)
	if !ok {
		httputil.WriteError(w, r, apperrors.NotFound("customer", phone), s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, customer)
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := s.store.Branch(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, branch)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	phone := middleware.SubjectFromContext(r.Context())
	profile, err := s.store.Profile(phone)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	phone := middleware.SubjectFromContext(r.Context())
	history, err := s.store.History(phone)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, history)
}

type checkInRequest struct {
	BranchID     string   `json:"branchId" validate:"required"`
	PhoneNumber  string   `json:"phoneNumber" validate:"omitempty,e164"`
	CustomerName string   `json:"customerName"`
	Value        *float64 `json:"value" validate:"omitempty,gte=0"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if role := middleware.RoleFromContext(r.Context()); role != "" && role != roleCustomer {
		httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), s.logger)
		return
	}

	var req checkInRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	// The authenticated identity wins over whatever the body claims; an
	// unauthenticated returning customer is identified by the body phone.
	phone := middleware.SubjectFromContext(r.Context())
	if phone == "" {
		phone = req.PhoneNumber
	}
	if phone == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("phoneNumber is required"), s.logger)
		return
	}

	activity, err := s.store.CreateCheckIn(phone, req.BranchID, req.CustomerName, req.Value)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	s.hub.BroadcastNewCheckin(activity)
	httputil.WriteJSON(w, http.StatusCreated, activity)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.store.StaffByID(middleware.SubjectFromContext(r.Context()))
	if !ok {
		httputil.WriteError(w, r, apperrors.Forbidden("staff record not found"), s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.store.Activities(staff.BranchID))
}

type resolveRequest struct {
	Status domain.ActivityStatus `json:"status" validate:"required,oneof=APPROVED REJECTED"`
	Value  *float64              `json:"value" validate:"omitempty,gte=0"`
}

func (s *Server) handleResolveActivity(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.store.StaffByID(middleware.SubjectFromContext(r.Context()))
	if !ok {
		httputil.WriteError(w, r, apperrors.Forbidden("staff record not found"), s.logger)
		return
	}

	var req resolveRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	activity, reward, err := s.store.ResolveActivity(chi.URLParam(r, "id"), staff.ID, req.Status, req.Value)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	s.hub.BroadcastStatus(activity)
	if reward != nil {
		s.logger.Info("streak reward issued",
			slog.String("customer", activity.CustomerID),
			slog.String("reward_id", reward.ID))
	}
	httputil.WriteJSON(w, http.StatusOK, activity)
}

func (s *Server) handleRedeemReward(w http.ResponseWriter, r *http.Request) {
	phone := middleware.SubjectFromContext(r.Context())
	reward, err := s.store.RedeemReward(chi.URLParam(r, "id"), phone)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reward)
}

func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.store.StaffByID(middleware.SubjectFromContext(r.Context()))
	if !ok {
		httputil.WriteError(w, r, apperrors.Forbidden("staff record not found"), s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.store.Rewards(staff.BranchID))
}

type completeByCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

func (s *Server) handleCompleteByCode(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.store.StaffByID(middleware.SubjectFromContext(r.Context()))
	if !ok {
		httputil.WriteError(w, r, apperrors.Forbidden("staff record not found"), s.logger)
		return
	}

	var req completeByCodeRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	reward, err := s.store.CompleteRewardByCode(req.Code, staff.BranchID)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reward)
}
