package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hookscope/internal/archive"
	"hookscope/internal/channel"
	"hookscope/internal/config"
	"hookscope/internal/console"
	"hookscope/internal/dataservice"
	"hookscope/internal/httpcontract"
	"hookscope/internal/relay"
	"hookscope/internal/session"
	"hookscope/internal/tui"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
)

// CLI defines the command-line interface structure.
var CLI struct {
	// Global flags
	Server string `help:"Service base URL" default:"" env:"HOOKSCOPE_SERVER"`
	Debug  bool   `help:"Enable debug logging"`

	// Commands
	Signup SignupCmd `cmd:"" help:"Register a new account"`
	Login  LoginCmd  `cmd:"" help:"Sign in with email and two authenticator codes"`
	Logout LogoutCmd `cmd:"" help:"Forget the stored session"`

	Path    PathCmd    `cmd:"" help:"Manage monitored paths"`
	Records RecordsCmd `cmd:"" help:"Show webhook records for a path"`
	Chart   ChartCmd   `cmd:"" help:"Dump the per-minute chart series for a path"`
	Export  ExportCmd  `cmd:"" help:"Export all records for a path to CSV"`

	Watch WatchCmd `cmd:"" help:"Stream live webhook records"`
	Relay RelayCmd `cmd:"" help:"Forward live webhook records to RabbitMQ"`
	Dash  DashCmd  `cmd:"" help:"Open the live dashboard"`
}

// Context holds shared CLI state.
type Context struct {
	cfg      config.Config
	sessions *session.Store
	svc      *dataservice.Client
}

func (c *Context) wsURL() string {
	base := c.cfg.ServerURL
	if strings.HasPrefix(base, "https") {
		base = "wss" + strings.TrimPrefix(base, "https")
	} else {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	return base + httpcontract.RouteWS
}

// newChannel builds and connects the push channel for the stored session.
func (c *Context) newChannel(ctx context.Context) (*channel.Channel, error) {
	ch := channel.New(c.wsURL(), c.sessions, channel.Options{
		AuthTimeout:       time.Duration(c.cfg.AuthTimeoutSeconds) * time.Second,
		ReconnectAttempts: c.cfg.ReconnectAttempts,
		ReconnectDelay:    time.Duration(c.cfg.ReconnectDelaySeconds) * time.Second,
		ReconnectCap:      time.Duration(c.cfg.ReconnectCapSeconds) * time.Second,
		OnState: func(event string, err error) {
			if err != nil {
				log.Debug("Channel state change", "event", event, "error", err)
				return
			}
			log.Debug("Channel state change", "event", event)
		},
	})
	if err := ch.Connect(ctx); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Context) newStore(live console.LiveChannel) *console.Store {
	store := console.New(c.svc, live, fileSaver{})
	store.SetExportLimit(c.cfg.ExportLimit)
	return store
}

// fileSaver writes exports to the current directory.
type fileSaver struct{}

func (fileSaver) Save(filename string, content []byte) error {
	return os.WriteFile(filename, content, 0644)
}

// Auth Commands

type SignupCmd struct {
	Email string `arg:"" help:"Email address to register"`
}

func (c *SignupCmd) Run(ctx *Context) error {
	result, err := ctx.svc.Signup(context.Background(), c.Email)
	if err != nil {
		return err
	}

	fmt.Printf("Account created: %s\n", result.Email)
	fmt.Printf("TOTP secret: %s\n", result.SecretKey)
	fmt.Println("Add this secret to your authenticator app. It will not be shown again.")
	return nil
}

type LoginCmd struct {
	Email string `arg:"" help:"Account email"`
	Code1 string `arg:"" help:"Current authenticator code"`
	Code2 string `arg:"" help:"Next authenticator code"`
}

func (c *LoginCmd) Run(ctx *Context) error {
	result, err := ctx.svc.Signin(context.Background(), c.Email, c.Code1, c.Code2)
	if err != nil {
		return err
	}

	if err := ctx.sessions.Save(result.Token, result.Email); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", result.Email)
	return nil
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx *Context) error {
	if err := ctx.sessions.Clear(); err != nil {
		return err
	}
	fmt.Println("Session cleared")
	return nil
}

// Path Commands

type PathCmd struct {
	Create PathCreateCmd `cmd:"" help:"Create a new path"`
	List   PathListCmd   `cmd:"" help:"List all paths"`
	Delete PathDeleteCmd `cmd:"" help:"Delete a path"`
}

type PathCreateCmd struct {
	Route       string `arg:"" help:"Route segment for the new path"`
	Description string `help:"Optional description" default:""`
}

func (c *PathCreateCmd) Run(ctx *Context) error {
	store := ctx.newStore(nil)
	created, err := store.CreatePath(context.Background(), c.Route, c.Description)
	if err != nil {
		return err
	}

	fmt.Printf("Path created: %s (ID: %s)\n", created.Route, created.ID)
	return nil
}

type PathListCmd struct{}

func (c *PathListCmd) Run(ctx *Context) error {
	store := ctx.newStore(nil)
	paths, err := store.ListPaths(context.Background())
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		fmt.Println("No paths defined")
		return nil
	}
	fmt.Println("Paths:")
	for _, p := range paths {
		fmt.Printf("  %s: %s (%d received, created %s)\n",
			p.ID, p.Route, p.WebhookCount, p.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

type PathDeleteCmd struct {
	ID string `arg:"" help:"ID of the path to delete"`
}

func (c *PathDeleteCmd) Run(ctx *Context) error {
	store := ctx.newStore(nil)
	if err := store.DeletePath(context.Background(), c.ID); err != nil {
		return err
	}

	fmt.Printf("Path %s deleted\n", c.ID)
	return nil
}

// RecordsCmd shows one page of records for a path.
type RecordsCmd struct {
	ID    string `arg:"" help:"Path ID"`
	Limit int    `help:"Page size (defaults to HOOKSCOPE_PAGE_LIMIT)" default:"0"`
	Skip  int    `help:"Records to skip" default:"0"`
}

func (c *RecordsCmd) Run(ctx *Context) error {
	limit := c.Limit
	if limit < 1 {
		limit = ctx.cfg.PageLimit
	}

	store := ctx.newStore(nil)
	if err := store.LoadPageData(context.Background(), c.ID, limit, c.Skip); err != nil {
		return err
	}

	view := store.PageView()
	fmt.Printf("Records %d-%d of %d:\n", c.Skip+1, c.Skip+len(view.Records), view.Total)
	for _, rec := range view.Records {
		fmt.Printf("  [%s] %s from %s\n    %s\n",
			rec.ReceivedAt.Format(time.RFC3339), rec.ContentType, rec.IPAddress, rec.Payload)
	}
	return nil
}

// ChartCmd dumps the non-empty chart buckets for a path.
type ChartCmd struct {
	ID string `arg:"" help:"Path ID"`
}

func (c *ChartCmd) Run(ctx *Context) error {
	store := ctx.newStore(nil)
	series, err := store.LoadChartSeries(context.Background(), c.ID)
	if err != nil {
		return err
	}

	total := 0
	for i := 0; i < series.Len(); i++ {
		if series.Counts[i] == 0 {
			continue
		}
		total += series.Counts[i]
		fmt.Printf("  %s  %d\n", time.UnixMilli(series.Timestamps[i]).Local().Format("15:04"), series.Counts[i])
	}
	fmt.Printf("Total: %d webhooks in the last 8 hours\n", total)
	return nil
}

// ExportCmd writes the full record set for a path to a CSV file.
type ExportCmd struct {
	ID   string `arg:"" help:"Path ID"`
	Name string `help:"Display name embedded in the filename (defaults to the path ID)" default:""`
}

func (c *ExportCmd) Run(ctx *Context) error {
	name := c.Name
	if name == "" {
		name = c.ID
	}

	store := ctx.newStore(nil)
	filename, err := store.ExportPageData(context.Background(), c.ID, name)
	if err != nil {
		return err
	}

	fmt.Printf("Exported to %s\n", filename)
	return nil
}

// WatchCmd subscribes to live updates and prints records as they arrive.
type WatchCmd struct {
	Raw     bool   `short:"r" help:"Print raw record payloads without formatting"`
	Field   string `short:"f" help:"Print only this payload field (gjson path)"`
	Archive bool   `help:"Append received records to the local archive"`
}

func (c *WatchCmd) Run(ctx *Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := ctx.newChannel(bgCtx)
	if err != nil {
		return fmt.Errorf("failed to connect channel: %w", err)
	}
	defer ch.Close()

	var arc *archive.Store
	if c.Archive {
		arc, err = archive.New(ctx.cfg.ArchiveDBPath)
		if err != nil {
			return err
		}
		defer arc.Close()
	}

	store := ctx.newStore(ch)
	if _, err := store.ListPaths(bgCtx); err != nil {
		log.Warn("Failed to prime path list", "error", err)
	}

	store.SetRecordHook(func(rec httpcontract.WebhookRecord) {
		switch {
		case c.Field != "":
			fmt.Println(gjson.GetBytes(rec.Payload, c.Field).String())
		case c.Raw:
			fmt.Println(string(rec.Payload))
		default:
			fmt.Printf("[%s] %s %s from %s: %s\n",
				time.Now().Format("15:04:05"), rec.PathID, rec.ContentType, rec.IPAddress, rec.Payload)
		}
		if arc != nil {
			if err := arc.Append(rec); err != nil {
				log.Error("Failed to archive record", "error", err)
			}
		}
	})
	store.SubscribeToLiveUpdates()
	defer store.UnsubscribeFromLiveUpdates()

	if !c.Raw {
		fmt.Println("Watching for webhooks (Ctrl+C to exit)")
		fmt.Println(strings.Repeat("-", 40))
	}

	waitForInterrupt(cancel)
	return nil
}

// RelayCmd forwards live records to the RabbitMQ records exchange.
type RelayCmd struct {
	RabbitURL string `help:"RabbitMQ URL" default:"" env:"RABBITMQ_URL"`
}

func (c *RelayCmd) Run(ctx *Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := c.RabbitURL
	if url == "" {
		url = ctx.cfg.RabbitURL
	}
	pub, err := relay.NewPublisher(url)
	if err != nil {
		return err
	}
	defer pub.Close()
	log.Info("Connected to RabbitMQ", "exchange", relay.ExchangeName)

	ch, err := ctx.newChannel(bgCtx)
	if err != nil {
		return fmt.Errorf("failed to connect channel: %w", err)
	}
	defer ch.Close()

	store := ctx.newStore(ch)
	store.SetRecordHook(func(rec httpcontract.WebhookRecord) {
		body, err := json.Marshal(rec)
		if err != nil {
			log.Error("Failed to encode record", "error", err)
			return
		}

		pubCtx, pubCancel := context.WithTimeout(bgCtx, 5*time.Second)
		defer pubCancel()
		if err := pub.Publish(pubCtx, rec.PathID, body); err != nil {
			if err == relay.ErrNoRoute {
				log.Debug("No consumer bound for record", "path_id", rec.PathID)
				return
			}
			log.Error("Failed to relay record", "path_id", rec.PathID, "error", err)
			return
		}
		log.Info("Record relayed", "path_id", rec.PathID, "size", len(body))
	})
	store.SubscribeToLiveUpdates()
	defer store.UnsubscribeFromLiveUpdates()

	fmt.Println("Relaying webhooks to RabbitMQ (Ctrl+C to exit)")
	waitForInterrupt(cancel)
	return nil
}

// DashCmd opens the live terminal dashboard.
type DashCmd struct{}

func (c *DashCmd) Run(ctx *Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The dashboard still works pull-only when the channel cannot connect.
	ch, err := ctx.newChannel(bgCtx)
	if err != nil {
		log.Warn("Live updates unavailable", "error", err)
	} else {
		defer ch.Close()
	}

	var live console.LiveChannel
	if ch != nil {
		live = ch
	}
	store := ctx.newStore(live)
	store.SubscribeToLiveUpdates()
	defer store.UnsubscribeFromLiveUpdates()

	return tui.Run(store)
}

// waitForInterrupt blocks until SIGINT/SIGTERM.
func waitForInterrupt(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nDisconnecting...")
	cancel()
}

func main() {
	log.SetLevel(log.WarnLevel) // Quiet by default for CLI

	kctx := kong.Parse(&CLI,
		kong.Name("hookscope"),
		kong.Description("Console for inspecting webhook traffic"),
		kong.UsageOnError(),
	)

	if CLI.Debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg := config.Load()
	if CLI.Server != "" {
		cfg.ServerURL = CLI.Server
	}

	sessions, err := session.New(cfg.SessionDBPath)
	if err != nil {
		log.Fatal("Failed to open session store", "error", err)
	}
	defer sessions.Close()

	ctx := &Context{
		cfg:      cfg,
		sessions: sessions,
		svc: dataservice.New(cfg.ServerURL, sessions,
			time.Duration(cfg.HTTPTimeoutSeconds)*time.Second),
	}

	if err := kctx.Run(ctx); err != nil {
		log.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
