package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/campusmine/campusmine/app/server"
	"github.com/campusmine/campusmine/config"
	"github.com/campusmine/campusmine/logger"
	"github.com/campusmine/campusmine/mining"
	"github.com/campusmine/campusmine/mq"
	"github.com/campusmine/campusmine/store"
)

func main() {
	root := &cobra.Command{
		Use:   "campusmine-server",
		Short: "Mining accrual engine with live status push",
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Settings{Format: cfg.LogFormat, Level: cfg.LogLevel, Filename: cfg.LogFile}); err != nil {
		return err
	}

	var (
		sessions  mining.SessionStore
		wallets   mining.WalletStore
		directory mining.InstitutionDirectory
		accounts  mining.AccountService
		closer    server.Closer
	)
	if cfg.Store == "pg" {
		pg, err := store.NewPGStore(cfg.PostgresDSN)
		if err != nil {
			logger.WithError(err).Fatal("pg init failed")
		}
		sessions, wallets, directory, accounts, closer = pg, pg, pg, pg, pg
	} else {
		mem := store.NewMemoryStore()
		// Dev fixture so a memory-backed server is usable out of the box.
		mem.AddInstitution(&mining.Institution{ID: "demo", Name: "Demo Institute", BaseRate: cfg.DefaultBaseRate, ReferralBonusRate: cfg.DefaultReferralBonus})
		mem.SetTracking("student", "demo", true)
		sessions, wallets, directory, accounts, closer = mem, mem, mem, mem, mem
	}

	var queue server.MessageQueue
	if cfg.MQ == "rabbit" {
		r, err := mq.NewRabbitMQ(cfg.MQURL, cfg.MQQueue)
		if err != nil {
			logger.WithError(err).Fatal("rabbitmq init failed")
		}
		queue = r
	} else {
		queue = mq.NewMemoryQueue(1024)
	}

	ctrl := mining.NewController(sessions, wallets, directory, accounts, queue, cfg.SessionWindow, mining.RateConfig{
		DefaultBaseRate:      cfg.DefaultBaseRate,
		DefaultReferralBonus: cfg.DefaultReferralBonus,
	})

	var framer server.Framer = server.WsFramer{}
	if cfg.Transport == "tcp" {
		framer = server.TcpFramer{}
	}
	app := server.NewAppServer(cfg.Addr, framer, ctrl, closer, queue, cfg.SweepInterval, cfg.PushInterval, cfg.CacheStaleAfter, cfg.AuthTimeout)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	go func() {
		if err := app.Start(rootCtx); err != nil {
			logger.WithError(err).Fatal("server failed")
		}
	}()
	go serveAdmin(cfg.AdminAddr, ctrl, app)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	rootCancel()
	return app.Shutdown(context.Background())
}

// serveAdmin exposes health, the triggered sweep and the administrative
// balance correction on a separate listener.
func serveAdmin(addr string, ctrl *mining.Controller, app *server.AppServer) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("/sweep", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		res, err := ctrl.Sweep(r.Context())
		if err != nil {
			w.WriteHeader(500)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"scanned": res.Scanned,
			"closed":  res.Closed,
			"skipped": res.Skipped,
			"failed":  res.Failed,
		})
	})
	mux.HandleFunc("/wallets/adjust", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			StudentID     string `json:"student_id"`
			InstitutionID string `json:"institution_id"`
			Delta         string `json:"delta"`
			Reason        string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(400)
			return
		}
		delta, err := decimal.NewFromString(body.Delta)
		if err != nil || body.Reason == "" {
			w.WriteHeader(400)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "delta and reason are required"})
			return
		}
		wallet, err := ctrl.AdjustBalance(r.Context(), body.StudentID, body.InstitutionID, delta, body.Reason)
		if err != nil {
			w.WriteHeader(500)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balance":     wallet.Balance.String(),
			"total_mined": wallet.TotalMined.String(),
		})
	})
	mux.HandleFunc("/shutdown/status", func(w http.ResponseWriter, r *http.Request) {
		st := app.Status()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"mq_stopped":    st.MQStopped,
			"store_closed":  st.StoreClosed,
			"server_closed": st.ServerClosed,
			"duration":      st.Duration.String(),
		})
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("admin listener failed")
	}
}
