// Package cli wires the credential store, session manager, API client and
// readiness poller into the lmctl command surface.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/brewkit/lmctl/internal/apiclient"
	"github.com/brewkit/lmctl/internal/auth"
	"github.com/brewkit/lmctl/internal/installkey"
	"github.com/brewkit/lmctl/internal/notify"
	"github.com/brewkit/lmctl/internal/readiness"
	"github.com/brewkit/lmctl/internal/session"
	"github.com/brewkit/lmctl/internal/store"
	"github.com/brewkit/lmctl/pkg/slogx"
)

const usage = `lmctl controls La Marzocco espresso machines through the vendor cloud API.

Usage:
  lmctl <command> [flags]

Commands:
  login       Sign in and store a session
  logout      Remove the stored session
  machines    List machines on the account
  status      Show the status of a machine
  on          Turn a machine on (optionally wait for the boiler)
  off         Put a machine in standby

Flags:
  -v, --verbose   Enable debug logging

Run "lmctl <command> --help" for command flags.
`

// Run parses the command line and executes one command. The returned value
// is the process exit code.
func Run(args []string) int {
	return run(args, LoadConfig(), os.Stdin, os.Stdout, os.Stderr)
}

type app struct {
	cfg   Config
	stdin io.Reader
	// reader wraps stdin once per invocation; per-prompt readers would
	// buffer and discard lines the next prompt needs.
	reader *bufio.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, cfg Config, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	// Ctrl-C cancels in-flight requests and any readiness wait.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]

	if command == "help" || command == "--help" || command == "-h" {
		fmt.Fprint(stdout, usage)
		return 0
	}

	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	verbose := flags.BoolP("verbose", "v", false, "enable debug logging")
	serial := flags.String("serial", "", "machine serial number")
	wait := flags.Bool("wait", false, "wait until the boiler is ready")
	email := flags.String("email", "", "account email")
	password := flags.String("password", "", "account password")
	savePassword := flags.Bool("save-password", false, "store the password for silent re-login")

	if err := flags.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	logger := slogx.New(slogx.Config{Level: level, Format: cfg.LogFormat, Writer: stderr})
	ctx, logger = slogx.WithInvocation(ctx, logger)

	a := &app{cfg: cfg, stdin: stdin, reader: bufio.NewReader(stdin), stdout: stdout, stderr: stderr}

	var err error
	switch command {
	case "login":
		err = a.login(ctx, *email, *password, *savePassword)
	case "logout":
		err = a.logout(ctx)
	case "machines":
		err = a.machines(ctx)
	case "status":
		err = a.status(ctx, *serial)
	case "on":
		err = a.powerOn(ctx, *serial, *wait)
	case "off":
		err = a.powerOff(ctx, *serial)
	default:
		fmt.Fprintf(stderr, "lmctl: unknown command %q\n\n", command)
		fmt.Fprint(stderr, usage)
		return 2
	}

	if err != nil {
		logger.DebugContext(ctx, "command failed", "command", command, "error", err)
		fmt.Fprintf(stderr, "lmctl: %s\n", userMessage(err))
		return 1
	}
	return 0
}

// components builds the session manager and API client shared by every
// authenticated command.
func (a *app) components(ctx context.Context) (*session.Manager, *apiclient.Client) {
	logger := slogx.FromContext(ctx)
	st := store.NewFileStore(a.cfg.ConfigFile)

	// The installation key rides along with the stored credentials; signing
	// is skipped when none has been registered yet. Load errors are left for
	// the session manager to surface properly.
	var key *installkey.Key
	if creds, err := st.Load(); err == nil && creds != nil {
		key = creds.InstallationKey
	}

	authn := auth.New(a.cfg.BaseURL, key, logger)
	authn.TokenTTL = a.cfg.TokenTTL
	authn.HTTPClient.Timeout = a.cfg.HTTPTimeout

	mgr := session.NewManager(st, authn, a.cfg.TokenSafetyMargin, logger)

	client := apiclient.New(apiclient.Config{
		BaseURL:       a.cfg.BaseURL,
		HTTPClient:    &http.Client{Timeout: a.cfg.HTTPTimeout},
		Tokens:        mgr,
		Key:           key,
		RetryBase:     a.cfg.RetryBase,
		RetryAttempts: a.cfg.RetryAttempts,
		Logger:        logger,
	})

	return mgr, client
}

func (a *app) login(ctx context.Context, email, password string, savePassword bool) error {
	logger := slogx.FromContext(ctx)
	st := store.NewFileStore(a.cfg.ConfigFile)

	// Flags win over environment; anything still missing is prompted for.
	if email == "" {
		email = a.cfg.Email
	}
	if password == "" {
		password = a.cfg.Password
	}
	var err error
	if email == "" {
		if email, err = a.promptLine("Email"); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = a.promptPassword("Password"); err != nil {
			return err
		}
	}
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}

	// First login on this machine registers an installation key; later
	// requests sign themselves with it.
	key, err := a.ensureInstallationKey(ctx, st)
	if err != nil {
		return err
	}

	// Sign-in must use the key registered above, not whatever was stored
	// before, so the session manager is built here rather than shared.
	authn := auth.New(a.cfg.BaseURL, key, logger)
	authn.TokenTTL = a.cfg.TokenTTL
	authn.HTTPClient.Timeout = a.cfg.HTTPTimeout
	mgr := session.NewManager(st, authn, a.cfg.TokenSafetyMargin, logger)

	if err := mgr.LoginAndSave(ctx, email, password, savePassword, key); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Logged in as %s. Session saved to %s.\n", email, st.Path())
	logger.InfoContext(ctx, "login succeeded", "email", email)
	return nil
}

// ensureInstallationKey returns the stored installation key, generating and
// registering a fresh one on first login.
func (a *app) ensureInstallationKey(ctx context.Context, st *store.FileStore) (*installkey.Key, error) {
	logger := slogx.FromContext(ctx)

	if creds, err := st.Load(); err == nil && creds != nil && creds.InstallationKey != nil {
		return creds.InstallationKey, nil
	}

	key, err := installkey.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate installation key: %w", err)
	}

	authn := auth.New(a.cfg.BaseURL, key, logger)
	authn.HTTPClient.Timeout = a.cfg.HTTPTimeout
	if err := authn.RegisterInstallation(ctx); err != nil {
		return nil, fmt.Errorf("register installation: %w", err)
	}

	logger.InfoContext(ctx, "registered installation key", "installation_id", key.InstallationID)
	return key, nil
}

func (a *app) logout(ctx context.Context) error {
	mgr, _ := a.components(ctx)
	if err := mgr.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Logged out.")
	return nil
}

func (a *app) machines(ctx context.Context) error {
	logger := slogx.FromContext(ctx)
	_, client := a.components(ctx)

	machines, err := client.ListMachines(ctx)
	if err != nil {
		return err
	}
	if len(machines) == 0 {
		fmt.Fprintln(a.stdout, "No machines on this account.")
		return nil
	}

	rows := make([]machineRow, 0, len(machines))
	for _, m := range machines {
		row := machineRow{Machine: m}
		if m.Connected {
			st, err := client.MachineStatus(ctx, m.SerialNumber)
			if err != nil {
				// One unreadable dashboard should not sink the listing.
				logger.WarnContext(ctx, "dashboard unavailable",
					"serial", m.SerialNumber, "error", err)
			} else {
				row.Status = st.Describe(time.Now())
			}
		}
		rows = append(rows, row)
	}

	renderMachines(a.stdout, rows)
	return nil
}

func (a *app) status(ctx context.Context, serial string) error {
	_, client := a.components(ctx)

	serial, err := a.resolveSerial(ctx, client, serial)
	if err != nil {
		return err
	}

	st, err := client.MachineStatus(ctx, serial)
	if err != nil {
		return err
	}
	renderStatus(a.stdout, st, time.Now())
	return nil
}

func (a *app) powerOn(ctx context.Context, serial string, wait bool) error {
	logger := slogx.FromContext(ctx)
	_, client := a.components(ctx)

	serial, err := a.resolveSerial(ctx, client, serial)
	if err != nil {
		return err
	}

	if !wait {
		if err := client.SetPower(ctx, serial, true); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s: turning on\n", serial)
		return nil
	}

	poller := &readiness.Poller{
		Client:      client,
		Interval:    a.cfg.PollInterval,
		MaxInterval: a.cfg.PollMaxInterval,
		Timeout:     a.cfg.PollTimeout,
		Logger:      logger,
		Notify: func(message string) {
			notify.Desktop(logger, message)
		},
		Progress: func(status string) {
			fmt.Fprintf(a.stdout, "%s: %s\n", serial, status)
		},
	}

	outcome, err := poller.PowerOnAndWait(ctx, serial)
	switch outcome {
	case readiness.Ready:
		fmt.Fprintf(a.stdout, "%s: ready\n", serial)
		return nil
	case readiness.TimedOut:
		return fmt.Errorf("%s is still warming up after %s; it stays on", serial, a.cfg.PollTimeout)
	default:
		return err
	}
}

func (a *app) powerOff(ctx context.Context, serial string) error {
	_, client := a.components(ctx)

	serial, err := a.resolveSerial(ctx, client, serial)
	if err != nil {
		return err
	}

	if err := client.SetPower(ctx, serial, false); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: standby\n", serial)
	return nil
}

// resolveSerial picks the target machine: an explicit --serial wins, and an
// account with exactly one machine needs no flag at all.
func (a *app) resolveSerial(ctx context.Context, client *apiclient.Client, serial string) (string, error) {
	if serial != "" {
		return serial, nil
	}

	machines, err := client.ListMachines(ctx)
	if err != nil {
		return "", err
	}
	switch len(machines) {
	case 0:
		return "", errors.New("no machines on this account")
	case 1:
		return machines[0].SerialNumber, nil
	default:
		return "", fmt.Errorf("account has %d machines; pick one with --serial", len(machines))
	}
}

// userMessage maps internal errors to a line a person can act on.
func userMessage(err error) string {
	var apiErr *apiclient.Error

	switch {
	case errors.Is(err, session.ErrReauthenticationRequired):
		return "no valid session; run 'lmctl login'"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid email or password"
	case errors.Is(err, session.ErrTransientFailure), errors.Is(err, auth.ErrUnreachable):
		return "the cloud API is unreachable right now; try again shortly"
	case errors.As(err, &apiErr):
		switch apiErr.Kind {
		case apiclient.KindUnauthorized:
			return "session was rejected; run 'lmctl login'"
		case apiclient.KindTransient, apiclient.KindUnreachable:
			return "the cloud API is unreachable right now; try again shortly"
		}
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return err.Error()
}
