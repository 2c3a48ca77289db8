// loyalty-customer is the terminal front-end for the customer check-in
// flow: phone lookup, OTP verification, check-in submission and live
// approval status, with streak rewards redeemable inline.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Nish7156/loyalty-client/internal/api"
	"github.com/Nish7156/loyalty-client/internal/checkin"
	"github.com/Nish7156/loyalty-client/internal/domain"
	"github.com/Nish7156/loyalty-client/internal/history"
	"github.com/Nish7156/loyalty-client/internal/realtime"
	"github.com/Nish7156/loyalty-client/internal/tokenstore"
	"github.com/Nish7156/loyalty-client/pkg/config"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
	"github.com/Nish7156/loyalty-client/pkg/httpclient"
	"github.com/Nish7156/loyalty-client/pkg/logger"
)

type appConfig struct {
	BaseURL   string `env:"API_BASE_URL" envDefault:"http://localhost:8090"`
	BranchID  string `env:"BRANCH_ID"`
	StatePath string `env:"STATE_PATH" envDefault:"loyalty-customer.db"`
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
	if cfg.BranchID == "" && len(os.Args) > 1 {
		// Accept the branch id (or a scanned /store/{id} link) as an argument.
		cfg.BranchID = strings.TrimPrefix(os.Args[len(os.Args)-1], "/store/")
	}
	if cfg.BranchID == "" {
		return fmt.Errorf("no branch: set BRANCH_ID or pass the scanned store link")
	}

	log := logger.New("loyalty-customer", cfg.LogLevel)

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

	branch, err := client.Branch(ctx, cfg.BranchID)
	if err != nil {
		return fmt.Errorf("fetch branch: %w", err)
	}

	ui := &customerUI{
		in:      bufio.NewScanner(os.Stdin),
		client:  client,
		tokens:  tokens,
		branch:  *branch,
		baseURL: cfg.BaseURL,
		logger:  log,
	}
	ui.machine = checkin.New(client, tokens, *branch, checkin.Config{Logger: log})
	client.OnSessionExpired(func() {
		fmt.Println("\nYour session expired, please verify your number again.")
		ui.machine.Reset()
	})
	defer ui.machine.Close()

	return ui.loop(ctx)
}

type customerUI struct {
	in      *bufio.Scanner
	client  *api.Client
	tokens  *tokenstore.Store
	machine *checkin.Machine
	branch  domain.Branch
	baseURL string
	logger  *slog.Logger
}

func (ui *customerUI) loop(ctx context.Context) error {
	fmt.Printf("Welcome to %s\n", ui.storeName())
	if err := ui.machine.Start(ctx); err != nil {
		fmt.Println(apperrors.UserMessage(err))
	}

	for ctx.Err() == nil {
		switch ui.machine.State() {
		case checkin.StatePhoneEntry:
			if done := ui.phoneEntry(ctx); done {
				return nil
			}
		case checkin.StateOTPEntry:
			ui.otpEntry(ctx)
		case checkin.StateCheckinForm:
			if done := ui.checkinForm(ctx); done {
				return nil
			}
		case checkin.StateAwaitingApproval:
			ui.awaitResolution(ctx)
		case checkin.StateResolvedApproved:
			fmt.Println("Check-in approved. Enjoy your visit!")
			if err := ui.machine.AnotherCheckIn(); err != nil {
				return err
			}
			ui.showProfile(ctx)
		case checkin.StateResolvedRejected:
			fmt.Println("Your check-in was not approved this time.")
			if err := ui.machine.AnotherCheckIn(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ui *customerUI) phoneEntry(ctx context.Context) bool {
	line, ok := ui.prompt("Phone number (or 'quit'): ")
	if !ok || line == "quit" {
		return true
	}
	if err := ui.machine.SubmitPhone(ctx, line); err != nil {
		fmt.Println(apperrors.UserMessage(err))
	}
	return false
}

func (ui *customerUI) otpEntry(ctx context.Context) {
	if ui.machine.Mode() == checkin.OTPModeRegister {
		fmt.Println("New here! We've sent a code to your phone.")
	} else {
		fmt.Println("We've sent a code to your phone.")
	}

	line, ok := ui.prompt("Code ('resend' / 'change'): ")
	if !ok {
		return
	}
	switch line {
	case "resend":
		if err := ui.machine.ResendOTP(ctx); err != nil {
			fmt.Println(apperrors.UserMessage(err))
		}
	case "change":
		_ = ui.machine.ChangeNumber()
	default:
		var name string
		if ui.machine.Mode() == checkin.OTPModeRegister {
			name, _ = ui.prompt("Your name: ")
		}
		if err := ui.machine.SubmitOTP(ctx, line, name); err != nil {
			fmt.Println(apperrors.UserMessage(err))
		}
	}
}

func (ui *customerUI) checkinForm(ctx context.Context) bool {
	fmt.Printf("Checking in as %s at %s\n", ui.machine.Identity(), ui.storeName())

	if reward := ui.machine.ActiveReward(); reward != nil {
		fmt.Println("You have a reward waiting! Type 'redeem' to use it.")
	}

	line, ok := ui.prompt("Amount spent (empty to skip, 'redeem', 'history', 'quit'): ")
	if !ok || line == "quit" {
		return true
	}

	switch line {
	case "redeem":
		code, err := ui.machine.RedeemReward(ctx)
		if err != nil {
			fmt.Println(apperrors.UserMessage(err))
			return false
		}
		fmt.Printf("Show this code at the counter: %s\n", code)
	case "history":
		ui.showHistory(ctx)
	default:
		if err := ui.machine.SubmitCheckIn(ctx, line); err != nil {
			fmt.Println(apperrors.UserMessage(err))
		}
	}
	return false
}

// awaitResolution subscribes to the customer's own status updates and blocks
// until the submitted check-in resolves or the context ends.
func (ui *customerUI) awaitResolution(ctx context.Context) {
	fmt.Println("Waiting for staff approval...")

	ch, err := realtime.DialCustomer(ctx, ui.baseURL, ui.machine.Phone(), ui.logger)
	if err != nil {
		fmt.Println("Lost the live connection; ask staff or try again later.")
		ui.logger.Warn("realtime dial failed", slog.String("error", err.Error()))
		return
	}
	defer ch.Close()

	for ui.machine.State() == checkin.StateAwaitingApproval {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch.Events():
			if !open {
				return
			}
			ui.machine.ApplyEvent(ev)
		}
	}
}

func (ui *customerUI) showProfile(ctx context.Context) {
	if err := ui.machine.RefreshProfile(ctx); err != nil {
		fmt.Println(apperrors.UserMessage(err))
		return
	}
	profile := ui.machine.Profile()
	if profile == nil {
		return
	}
	for _, s := range profile.Stores {
		fmt.Printf("  %s %s: %d visits, streak %d/%d\n",
			s.PartnerName, s.BranchName, s.VisitCount, s.StreakCount, s.RewardThreshold)
	}
	if n := len(profile.Rewards); n > 0 {
		fmt.Printf("  %d reward(s) ready to redeem\n", n)
	}
}

func (ui *customerUI) showHistory(ctx context.Context) {
	flat, err := ui.client.MyHistory(ctx)
	if err != nil {
		fmt.Println(apperrors.UserMessage(err))
		return
	}
	for _, store := range history.Build(*flat) {
		fmt.Printf("%s\n", store.PartnerName)
		for _, v := range store.Visits {
			fmt.Printf("  %s  %s  %s\n",
				v.CreatedAt.Format("2006-01-02 15:04"), history.VisitBranchName(v), v.Status)
		}
		for _, r := range store.Redemptions {
			fmt.Printf("  %s  reward redeemed\n", history.RedemptionTime(r).Format("2006-01-02 15:04"))
		}
	}
}

func (ui *customerUI) storeName() string {
	if ui.branch.Partner != nil && ui.branch.Partner.BusinessName != "" {
		return ui.branch.Partner.BusinessName + " " + ui.branch.BranchName
	}
	return ui.branch.BranchName
}

func (ui *customerUI) prompt(label string) (string, bool) {
	fmt.Print(label)
	if !ui.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(ui.in.Text()), true
}
