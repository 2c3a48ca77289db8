package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Nish7156/loyalty-client/internal/api"
	"github.com/Nish7156/loyalty-client/internal/domain"
	"github.com/Nish7156/loyalty-client/internal/realtime"
	"github.com/Nish7156/loyalty-client/internal/simulator"
	"github.com/Nish7156/loyalty-client/internal/tokenstore"
	"github.com/Nish7156/loyalty-client/pkg/httpclient"
	"github.com/Nish7156/loyalty-client/pkg/logger"
)

const (
	customerPhone = "+919876543210"
	staffPhone    = "+919000000001"
)

// syncBuffer collects the simulator's JSON log lines; handlers write from
// multiple goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// env is a simulator plus one customer-side and one staff-side client, each
// with its own local state, the way two separate devices would run.
type env struct {
	t        *testing.T
	server   *httptest.Server
	logs     *syncBuffer
	branchID string

	customerTokens *tokenstore.Store
	customerAPI    *api.Client

	staffTokens *tokenstore.Store
	staffAPI    *api.Client
}

func newEnv(t *testing.T, settings *domain.BranchSettings) *env {
	t.Helper()

	logs := &syncBuffer{}
	simLog := logger.NewWithWriter("loyalty-sim", "info", logs)

	store := simulator.NewStore(simLog)
	branchID := store.Seed(
		domain.Partner{BusinessName: "Chai Point", IndustryType: "CAFE"},
		domain.Branch{BranchName: "Koramangala", Settings: settings},
		simulator.Staff{Name: "Ravi", Phone: staffPhone},
	)
	hub := simulator.NewHub(simLog)
	srv := simulator.NewServer(store, hub, simulator.Config{
		JWTSecret: "integration-secret",
		TokenTTL:  time.Hour,
	}, simLog)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	e := &env{t: t, server: ts, logs: logs, branchID: branchID}
	e.customerTokens, e.customerAPI = e.newDevice("customer")
	e.staffTokens, e.staffAPI = e.newDevice("staff")
	return e
}

// newDevice creates an isolated token store and API client, the way another
// handset pointed at the same backend would run.
func (e *env) newDevice(name string) (*tokenstore.Store, *api.Client) {
	e.t.Helper()

	clientLog := logger.NewWithWriter("client", "error", io.Discard)
	tokens, err := tokenstore.Open(filepath.Join(e.t.TempDir(), name+".db"), clientLog)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = tokens.Close() })
	transport := httpclient.New(httpclient.DefaultConfig())
	return tokens, api.New(e.server.URL, transport, tokens, clientLog)
}

// lastOTP digs the most recent one-time code for the phone out of the
// simulator's structured logs, which is exactly where a developer reads it
// from during local runs.
func (e *env) lastOTP(phone string) string {
	e.t.Helper()

	var code string
	scanner := bufio.NewScanner(strings.NewReader(e.logs.String()))
	for scanner.Scan() {
		var line struct {
			Msg   string `json:"msg"`
			Phone string `json:"phone"`
			OTP   string `json:"otp"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Msg == "OTP issued" && line.Phone == phone {
			code = line.OTP
		}
	}
	require.NotEmpty(e.t, code, "no OTP logged for %s", phone)
	return code
}

// branch fetches the seeded branch the way the customer flow does after a
// QR scan.
func (e *env) branch() domain.Branch {
	e.t.Helper()
	b, err := e.customerAPI.Branch(e.t.Context(), e.branchID)
	require.NoError(e.t, err)
	return *b
}

// staffLogin runs the OTP login for the seeded staff member and stores the
// session token.
func (e *env) staffLogin() {
	e.t.Helper()
	ctx := e.t.Context()

	_, err := e.staffAPI.SendOTP(ctx, staffPhone)
	require.NoError(e.t, err)

	result, err := e.staffAPI.StaffLogin(ctx, staffPhone, e.lastOTP(staffPhone))
	require.NoError(e.t, err)
	require.NotNil(e.t, result.Staff)
	require.NoError(e.t, e.staffTokens.SetStaffToken(result.AccessToken))
}

// nextEvent reads one realtime event or fails the test.
func nextEvent(t *testing.T, ch *realtime.Channel) realtime.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "realtime channel closed early")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for realtime event")
		return realtime.Event{}
	}
}
