package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"twicket-botv1/config"
	"twicket-botv1/internal/browser"
	"twicket-botv1/internal/display"
	"twicket-botv1/internal/events"
	"twicket-botv1/internal/gateway"
	"twicket-botv1/internal/ledger"
	"twicket-botv1/internal/logger"
	"twicket-botv1/internal/metrics"
	"twicket-botv1/internal/model"
	"twicket-botv1/internal/monitor"
	"twicket-botv1/internal/notification"
	redisstore "twicket-botv1/internal/store/redis"
	sqlitestore "twicket-botv1/internal/store/sqlite"
	"twicket-botv1/internal/twickets"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	eventID := flag.String("event-id", "", "override event ID from config")
	timeDelay := flag.Duration("time-delay", 0, "override base poll delay from config")
	noHeadless := flag.Bool("no-headless", false, "run Chrome with a visible window")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("[twicketbot] starting...")

	// ---- Load config ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[twicketbot] config: %v", err)
	}
	if *eventID != "" {
		cfg.EventID = *eventID
	}
	if *timeDelay > 0 {
		cfg.TimeDelay = config.Duration(*timeDelay)
	}
	if *noHeadless {
		cfg.Headless = false
	}

	// ---- Route logs to a per-run file; the terminal belongs to the dashboard ----
	logFile, err := logger.Init(cfg.LogDir, slog.LevelInfo)
	if err != nil {
		log.Fatalf("[twicketbot] logger: %v", err)
	}
	defer logFile.Close()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Browser session ----
	br, err := browser.Launch(ctx, browser.Config{
		ChromePath:  cfg.ChromePath,
		DebuggerURL: cfg.DebuggerURL,
		Headless:    cfg.Headless,
		UserAgent:   cfg.UserAgent,
		StartURL:    twickets.DefaultBaseURL,
		Cookies: []browser.Cookie{
			{Name: "clientId", Value: cfg.APIKey, Domain: ".twickets.live", Path: "/"},
			{Name: "territory", Value: "GB", Domain: ".twickets.live", Path: "/"},
			{Name: "locale", Value: "en_GB", Domain: ".twickets.live", Path: "/"},
		},
	})
	if err != nil {
		log.Fatalf("[twicketbot] browser launch failed: %v", err)
	}
	defer br.Close()
	health.SetBrowserConnected(true)
	log.Println("[twicketbot] browser session ready")

	// ---- Twickets client + login ----
	client := twickets.New(twickets.Config{
		APIKey:    cfg.APIKey,
		UserAgent: cfg.UserAgent,
	}, br)

	if _, err := client.Login(ctx, cfg.User, cfg.Password); err != nil {
		log.Fatalf("[twicketbot] authentication failed: %v", err)
	}
	log.Printf("[twicketbot] logged in as %s", cfg.User)

	// ---- Notifiers ----
	var notifiers []notification.Notifier
	if cfg.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notification.NewDiscordNotifier(cfg.DiscordWebhookURL))
		log.Println("[twicketbot] discord notifications enabled")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[twicketbot] telegram notifications enabled")
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, notification.NewLogNotifier())
	}
	notifier := notification.NewMulti(notifiers...)

	// ---- Ledger + event bus ----
	led := ledger.New()
	bus := events.NewBus(1024)
	bus.OnDrop = func(idx int) {
		prom.EventsDropped.WithLabelValues(strconv.Itoa(idx)).Inc()
	}

	// ---- SQLite journal (off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
	journal, err := sqlitestore.New(sqlitestore.JournalConfig{DBPath: cfg.JournalPath})
	if err != nil {
		log.Fatalf("[twicketbot] journal init failed: %v", err)
	}
	defer journal.Close()
	go journal.Run(ctx, bus.Subscribe())
	log.Println("[twicketbot] journal ready")

	// ---- Redis publisher (optional, best effort) ----
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[twicketbot] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer publisher.Close()
			go publisher.Run(ctx, bus.Subscribe())
			log.Println("[twicketbot] redis publisher ready")
		}
	}

	// ---- Liveness checks ----
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	}

	// ---- WebSocket gateway (optional) ----
	var gatewaySrv *gateway.Server
	if cfg.GatewayAddr != "" {
		hub := gateway.NewHub()
		go hub.Run(ctx, bus.Subscribe())
		gatewaySrv = gateway.NewServer(cfg.GatewayAddr, hub)
		gatewaySrv.Start()
	}

	// ---- Terminal dashboard ----
	crit := cfg.Criteria()
	disp := display.New(os.Stdout, led, display.Stats{
		EventID:   cfg.EventID,
		MinSeats:  crit.MinSeats,
		MaxSeats:  crit.MaxSeats,
		MaxPrice:  crit.MaxPrice,
		StartedAt: time.Now(),
	})
	displayDone := make(chan struct{})
	go func() {
		disp.Run(ctx, bus.Subscribe())
		close(displayDone)
	}()

	// ---- Monitor ----
	mon := monitor.New(monitor.Config{
		EventID:   cfg.EventID,
		EventURL:  client.EventURL(cfg.EventID),
		BaseDelay: cfg.TimeDelay.Std(),
		Criteria:  crit,
		BlockURL:  client.BlockURL,
	}, client, br, notifier, led, bus)

	mon.OnCycle = func(listings int, err error, dur time.Duration) {
		prom.CyclesTotal.Inc()
		prom.CycleDur.Observe(dur.Seconds())
		prom.ListingsSeenTotal.Add(float64(listings))
		prom.LedgerSize.Set(float64(led.Len()))
		if err != nil {
			prom.FetchErrorsTotal.Inc()
		}
		health.SetLastCycleAt(time.Now())
	}
	mon.OnOutcome = func(o model.Outcome) {
		prom.OutcomesTotal.WithLabelValues(string(o)).Inc()
		if o == model.OutcomeOpened {
			prom.TicketsOpened.Inc()
		}
	}

	log.Printf("[twicketbot] monitoring event %s every %v (seats %d-%d)",
		cfg.EventID, cfg.TimeDelay, crit.MinSeats, crit.MaxSeats-1)
	mon.Run(ctx)

	// ---- Orderly shutdown ----
	log.Println("[twicketbot] shutting down...")
	bus.Close()
	<-displayDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if gatewaySrv != nil {
		gatewaySrv.Stop(shutdownCtx)
	}
	metricsSrv.Stop(shutdownCtx)

	log.Printf("[twicketbot] done, %d tickets opened this run", led.Opened())
}
