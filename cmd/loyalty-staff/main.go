// loyalty-staff is the terminal front-end for branch staff: a live queue of
// pending check-in requests to approve or reject, plus redemption-code
// completion at the counter.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Nish7156/loyalty-client/internal/api"
	"github.com/Nish7156/loyalty-client/internal/approval"
	"github.com/Nish7156/loyalty-client/internal/domain"
	"github.com/Nish7156/loyalty-client/internal/realtime"
	"github.com/Nish7156/loyalty-client/internal/tokenstore"
	"github.com/Nish7156/loyalty-client/pkg/config"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
	"github.com/Nish7156/loyalty-client/pkg/httpclient"
	"github.com/Nish7156/loyalty-client/pkg/logger"
)

type appConfig struct {
	BaseURL   string `env:"API_BASE_URL" envDefault:"http://localhost:8090"`
	StatePath string `env:"STATE_PATH" envDefault:"loyalty-staff.db"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"warn"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("loyalty-staff", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tokens, err := tokenstore.Open(cfg.StatePath, log)
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}
	defer func() { _ = tokens.Close() }()

	transport := httpclient.NewBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultBreakerConfig("loyalty-backend"),
		log,
	)
	client := api.New(cfg.BaseURL, transport, tokens, log)

	ui := &staffUI{
		in:      bufio.NewScanner(os.Stdin),
		client:  client,
		tokens:  tokens,
		queue:   approval.New(client, log),
		baseURL: cfg.BaseURL,
		logger:  log,
	}
	return ui.loop(ctx)
}

type staffUI struct {
	in      *bufio.Scanner
	client  *api.Client
	tokens  *tokenstore.Store
	queue   *approval.Queue
	baseURL string
	logger  *slog.Logger
	branch  string
}

func (ui *staffUI) loop(ctx context.Context) error {
	if err := ui.ensureSession(ctx); err != nil {
		return err
	}

	if err := ui.queue.Load(ctx); err != nil {
		// A rejected staff token means logging in again, not a crash.
		fmt.Println(apperrors.UserMessage(err))
		if err := ui.login(ctx); err != nil {
			return err
		}
		if err := ui.queue.Load(ctx); err != nil {
			return err
		}
	}

	ch, err := realtime.DialBranch(ctx, ui.baseURL, ui.branch, ui.logger)
	if err != nil {
		fmt.Println("Live updates unavailable; use 'list' to refresh manually.")
		ui.logger.Warn("realtime dial failed", slog.String("error", err.Error()))
	} else {
		defer ch.Close()
		go func() {
			for ev := range ch.Events() {
				ui.queue.ApplyEvent(ev)
				ui.render()
			}
		}()
	}

	ui.render()
	for ctx.Err() == nil {
		line, ok := ui.prompt("> ")
		if !ok || line == "quit" {
			return nil
		}
		ui.dispatch(ctx, line)
	}
	return nil
}

// ensureSession resumes a stored staff session or runs the OTP login.
func (ui *staffUI) ensureSession(ctx context.Context) error {
	if _, ok := ui.tokens.Token(tokenstore.KindStaff); ok {
		if branch, ok := ui.tokens.StaffBranch(); ok {
			ui.branch = branch
			return nil
		}
	}
	return ui.login(ctx)
}

func (ui *staffUI) login(ctx context.Context) error {
	phone, ok := ui.prompt("Staff phone number: ")
	if !ok {
		return fmt.Errorf("aborted")
	}
	phone = domain.NormalizePhone(phone)

	if _, err := ui.client.SendOTP(ctx, phone); err != nil {
		return fmt.Errorf("send OTP: %w", err)
	}

	code, ok := ui.prompt("Code: ")
	if !ok {
		return fmt.Errorf("aborted")
	}

	result, err := ui.client.StaffLogin(ctx, phone, code)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if result.Staff == nil {
		return fmt.Errorf("this account has no branch assignment")
	}

	if err := ui.tokens.SetStaffToken(result.AccessToken); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := ui.tokens.SetStaffBranch(result.Staff.BranchID); err != nil {
		ui.logger.Warn("failed to remember branch", slog.String("error", err.Error()))
	}
	ui.branch = result.Staff.BranchID
	fmt.Printf("Logged in as %s\n", result.Staff.Name)
	return nil
}

func (ui *staffUI) dispatch(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		ui.render()
		return
	}

	switch fields[0] {
	case "list":
		if err := ui.queue.Load(ctx); err != nil {
			fmt.Println(apperrors.UserMessage(err))
			return
		}
		ui.render()

	case "a", "approve":
		ui.resolve(ctx, fields[1:], true)

	case "r", "reject":
		ui.resolve(ctx, fields[1:], false)

	case "codes":
		rewards, err := ui.queue.PendingRedemptions(ctx)
		if err != nil {
			fmt.Println(apperrors.UserMessage(err))
			return
		}
		if len(rewards) == 0 {
			fmt.Println("No outstanding redemption codes.")
			return
		}
		for _, r := range rewards {
			fmt.Printf("  %s  customer %s\n", r.RedemptionCode, r.CustomerID)
		}

	case "complete":
		if len(fields) < 2 {
			fmt.Println("usage: complete <code>")
			return
		}
		reward, err := ui.queue.CompleteRedemption(ctx, strings.ToUpper(fields[1]))
		if err != nil {
			fmt.Println(apperrors.UserMessage(err))
			return
		}
		fmt.Printf("Redemption complete for customer %s\n", reward.CustomerID)

	case "logout":
		_ = ui.tokens.Clear(tokenstore.KindStaff)
		fmt.Println("Logged out.")

	case "help":
		fmt.Println("commands: list, a <n> [amount], r <n>, codes, complete <code>, logout, quit")

	default:
		fmt.Println("unknown command; try 'help'")
	}
}

// resolve approves or rejects entry n of the rendered queue, with an
// optional amount override on approval.
func (ui *staffUI) resolve(ctx context.Context, args []string, approve bool) {
	if len(args) < 1 {
		fmt.Println("usage: a|r <n> [amount]")
		return
	}
	n, err := strconv.Atoi(args[0])
	pending := ui.queue.Pending()
	if err != nil || n < 1 || n > len(pending) {
		fmt.Println("no such entry; 'list' to refresh")
		return
	}
	target := pending[n-1]

	var override *float64
	if approve && len(args) > 1 {
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil || v < 0 {
			fmt.Println("invalid amount override")
			return
		}
		override = &v
	}

	if approve {
		err = ui.queue.Approve(ctx, target.ID, override)
	} else {
		err = ui.queue.Reject(ctx, target.ID)
	}
	if err != nil {
		fmt.Println(apperrors.UserMessage(err))
	}
	ui.render()
}

func (ui *staffUI) render() {
	pending := ui.queue.Pending()
	if len(pending) == 0 {
		fmt.Println("No pending check-ins.")
		return
	}
	fmt.Printf("%d pending check-in(s):\n", len(pending))
	for i, a := range pending {
		amount := "no amount"
		if a.Value != nil {
			amount = fmt.Sprintf("%.2f", *a.Value)
		}
		name := a.CustomerName
		if name == "" {
			name = a.CustomerID
		}
		fmt.Printf("  %d. %s  %s  %s\n", i+1, name, amount, a.CreatedAt.Format("15:04:05"))
	}
}

func (ui *staffUI) prompt(label string) (string, bool) {
	fmt.Print(label)
	if !ui.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(ui.in.Text()), true
}
