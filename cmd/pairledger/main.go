package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pairledger/pairledger/internal/bus"
	"github.com/pairledger/pairledger/internal/config"
	"github.com/pairledger/pairledger/internal/models"
	"github.com/pairledger/pairledger/internal/remote"
	"github.com/pairledger/pairledger/internal/scheduler"
	"github.com/pairledger/pairledger/internal/service"
	"github.com/pairledger/pairledger/internal/storage/sqlite"
	"github.com/pairledger/pairledger/internal/uploader"
	"github.com/pairledger/pairledger/pkg/logging"
)

var configPath string

func main() {
	logging.Setup()

	root := &cobra.Command{
		Use:           "pairledger",
		Short:         "Offline-first shared expense ledger for two participants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newAddCmd(),
		newStatusCmd(),
		newSyncCmd(),
		newHistoryCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// app bundles the engine with the pieces the commands drive directly.
type app struct {
	cfg    *config.Config
	engine *service.Engine
	coord  *uploader.Coordinator
	sched  *scheduler.Scheduler
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	opts := []remote.Option{remote.WithCreateTimeout(cfg.Remote.CreateTimeout)}
	if cfg.Remote.DeviceSecret != "" {
		opts = append(opts, remote.WithTokenSource(remote.NewTokenSource(cfg.Remote.DeviceSecret, cfg.Remote.DeviceID)))
	}
	client := remote.NewClient(cfg.Remote.BaseURL, opts...)

	b := bus.New()
	coord := uploader.New(store, client, b, cfg.Remote.CreateTimeout)
	sched := scheduler.New(coord, cfg.Scheduler.PassiveInterval, cfg.Scheduler.ForegroundInterval)
	engine := service.New(store, client, coord, b, cfg.Participants.Pair())

	return &app{cfg: cfg, engine: engine, coord: coord, sched: sched}, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon with the retry scheduler and admin endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.engine.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The daemon counts as a foregrounded app: it is awake and can
			// use the opportunistic cadence.
			a.sched.EnterForeground(ctx)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			server := &http.Server{Addr: a.cfg.Server.Addr, Handler: mux}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("Admin endpoint listening", "addr", a.cfg.Server.Addr)
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			go func() {
				if _, err := a.engine.Refresh(ctx); err != nil {
					slog.Warn("Initial remote refresh failed, using last snapshot", "error", err)
				}
			}()

			schedDone := make(chan struct{})
			go func() {
				a.sched.Run(ctx)
				close(schedDone)
			}()

			select {
			case err := <-errCh:
				stop()
				<-schedDone
				return fmt.Errorf("admin endpoint failed: %w", err)
			case <-ctx.Done():
			}

			slog.Info("Shutting down")
			<-schedDone
			a.sched.EnterBackground(context.Background())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func newAddCmd() *cobra.Command {
	var (
		title       string
		whoPaid     string
		amount      float64
		amountKind  string
		receiptPath string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a new expense locally and queue it for upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.engine.Close()

			created, err := a.engine.CreateRecord(cmd.Context(), models.Payment{
				Title:       title,
				WhoPaid:     whoPaid,
				Amount:      amount,
				AmountKind:  models.AmountKind(amountKind),
				ReceiptPath: receiptPath,
			})
			if err != nil {
				return err
			}

			// Try the upload right away; offline is fine, the scheduler of a
			// running daemon picks the record up later.
			if err := a.engine.ManualUpload(cmd.Context(), created.ID); err != nil {
				slog.Warn("Immediate upload failed, record stays queued", "record_id", created.ID, "error", err)
			}

			fmt.Printf("recorded %s (%s)\n", created.Title, created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "expense title")
	cmd.Flags().StringVar(&whoPaid, "who", "", "participant who paid")
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount paid")
	cmd.Flags().StringVar(&amountKind, "kind", string(models.AmountTotal), "amount kind: total (split 50/50) or specific (payer's share)")
	cmd.Flags().StringVar(&receiptPath, "receipt", "", "path to a receipt image")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("who")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the merged balance and month-by-month records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.engine.Close()

			if _, err := a.engine.Refresh(cmd.Context()); err != nil {
				slog.Warn("Remote refresh failed, showing last-known data", "error", err)
			}

			summary, err := a.engine.Overview(cmd.Context())
			if err != nil {
				return err
			}

			first, second := a.cfg.Participants.First, a.cfg.Participants.Second
			switch {
			case summary.TotalBalance > 0:
				fmt.Printf("%s owes %s %.2f\n", second, first, summary.TotalBalance)
			case summary.TotalBalance < 0:
				fmt.Printf("%s owes %s %.2f\n", first, second, -summary.TotalBalance)
			default:
				fmt.Println("settled up")
			}

			for _, month := range summary.Months {
				fmt.Printf("\n%s %d (balance %+.2f)\n", month.Month, month.Year, month.Balance)
				for _, rec := range month.Records {
					when := time.UnixMilli(rec.PaymentDatetime).UTC().Format("2006-01-02")
					pending := ""
					if isPending(cmd.Context(), a, rec.ID) {
						pending = "  [pending upload]"
					}
					fmt.Printf("  %s  %-24s %s paid %.2f (%s)%s\n", when, rec.Title, rec.WhoPaid, rec.Amount, rec.AmountKind, pending)
				}
			}
			return nil
		},
	}
}

func isPending(ctx context.Context, a *app, id string) bool {
	pending, err := a.engine.ListPending(ctx)
	if err != nil {
		return false
	}
	for _, p := range pending {
		if p.ID == id {
			return true
		}
	}
	return false
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload queued records one at a time until the queue is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.engine.Close()

			// Clear any flag left behind by an interrupted run.
			if _, err := a.coord.ReleaseInFlight(cmd.Context()); err != nil {
				return err
			}

			uploaded := 0
			for {
				pending, err := a.engine.ListPending(cmd.Context())
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					break
				}
				if err := a.coord.DrainOne(cmd.Context()); err != nil {
					return fmt.Errorf("upload failed after %d records: %w", uploaded, err)
				}
				remaining, err := a.engine.ListPending(cmd.Context())
				if err != nil {
					return err
				}
				if len(remaining) == len(pending) {
					// Nothing queued for the remaining pending records.
					break
				}
				uploaded++
			}
			fmt.Printf("uploaded %d records\n", uploaded)
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the upload attempt log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.engine.Close()

			entries, err := a.engine.History(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no upload attempts yet")
				return nil
			}

			for _, e := range entries {
				when := time.UnixMilli(e.AttemptedAt).UTC().Format(time.RFC3339)
				line := fmt.Sprintf("%s  %-7s  %-24s %.2f", when, strings.ToUpper(string(e.Outcome)), e.Title, e.Amount)
				if e.Error != "" {
					line += "  (" + e.Error + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
