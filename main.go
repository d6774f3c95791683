package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"rota/internal/app/server"
	"rota/internal/auth"
	"rota/internal/cluster"
	"rota/internal/config"
	"rota/internal/database"
	"rota/internal/dispatch"
	"rota/internal/domain"
	"rota/internal/egress"
	"rota/internal/geo"
	"rota/internal/health"
	"rota/internal/jobs/cleanup"
	"rota/internal/jobs/runtime"
	"rota/internal/logging"
	"rota/internal/ratelimit"
	"rota/internal/registry"
	"rota/internal/rotation"
	"rota/internal/support"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file loaded", "error", err)
	}

	cfg := config.Load()
	configureLogging(cfg.LogLevel)

	if _, err := database.SetupDB(database.WithSettingsSeed(cfg.SettingsSeed())); err != nil {
		log.Fatal("Database setup failed", "error", err)
	}

	// The persisted settings row wins over env defaults once it exists.
	if settings, err := database.GetSettings(); err == nil {
		cfg.ApplySettings(*settings)
	} else {
		log.Warn("Settings row unavailable, using environment defaults", "error", err)
	}

	strategy, err := rotation.ParseStrategy(cfg.RotationStrategy)
	if err != nil {
		log.Fatal("Invalid rotation strategy", "strategy", cfg.RotationStrategy, "error", err)
	}

	reg, err := loadRegistry()
	if err != nil {
		log.Fatal("Failed to load proxies", "error", err)
	}
	log.Info("Proxy registry loaded", "proxies", reg.Len())

	egressDialer, err := egress.New(cfg.EgressProxyURL, cfg.ConnectTimeout)
	if err != nil {
		log.Fatal("Invalid egress proxy configuration", "error", err)
	}

	selector := rotation.NewSelector(strategy, cfg.RotationInterval)
	limiter := ratelimit.New(cfg.RateLimitEnabled, cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	creds := auth.NewProxyCredentials(cfg.AuthEnabled, cfg.AuthUsername, cfg.AuthPassword)
	resolver := geo.Open(cfg.GeoIPDatabasePath)
	defer resolver.Close()

	recorder := logging.NewRecorder(1024, func(rec logging.Record) error {
		if err := database.InsertRequestLog(domain.RequestLog{
			CreatedAt:  rec.Time,
			ClientIP:   rec.ClientIP,
			ProxyID:    rec.ProxyID,
			Target:     rec.Target,
			Success:    rec.Success,
			ErrorKind:  rec.ErrorKind,
			DurationMS: rec.Duration.Milliseconds(),
			BytesIn:    rec.BytesIn,
			BytesOut:   rec.BytesOut,
		}); err != nil {
			return err
		}
		if rec.ProxyID != 0 {
			return database.RecordProxyOutcome(rec.ProxyID, rec.Success)
		}
		return nil
	})

	handler := dispatch.NewHandler(reg, selector, limiter, creds, egressDialer, recorder, dispatch.Policy{
		MaxRetries:     cfg.MaxRetries,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	applySettings := func(s domain.Settings) error {
		strategy, err := rotation.ParseStrategy(s.RotationStrategy)
		if err != nil {
			return err
		}
		selector.SetStrategy(strategy)
		selector.SetWindow(time.Duration(s.RotationIntervalSeconds) * time.Second)
		limiter.Reconfigure(s.RateLimitEnabled, s.RateLimitPerSecond, s.RateLimitBurst)
		creds.Update(s.AuthEnabled, s.AuthUsername, s.AuthPassword)
		handler.SetPolicy(dispatch.Policy{
			MaxRetries:     s.MaxRetries,
			ConnectTimeout: time.Duration(s.ConnectTimeoutSeconds) * time.Second,
			RequestTimeout: time.Duration(s.RequestTimeoutSeconds) * time.Second,
		})

		dialer, err := egress.New(s.EgressProxyURL, time.Duration(s.ConnectTimeoutSeconds)*time.Second)
		if err != nil {
			return err
		}
		handler.SetEgress(dialer)
		return nil
	}

	apiServer := server.New(cfg, reg, resolver, applySettings)
	recorder.SetBroadcast(apiServer.BroadcastHub().BroadcastRecord)

	monitor, err := health.NewMonitor(reg, egressDialer, cfg.HealthCheckURL, cfg.HealthCheckInterval, cfg.ConnectTimeout, cfg.HealthCheckConcurrency, func(result health.Result) {
		apiServer.BroadcastHub().BroadcastHealth(result)
		if err := database.UpdateProxyHealth(result.ProxyID, result.Healthy, result.Latency, result.CheckedAt); err != nil {
			log.Error("Failed to persist probe result", "proxy_id", result.ProxyID, "error", err)
		}
	})
	if err != nil {
		log.Fatal("Invalid health check configuration", "error", err)
	}
	go monitor.Run(rootCtx)
	go limiter.StartSweeping(rootCtx, time.Minute, 10*time.Minute)

	proxyServer := dispatch.NewServer(cfg.ProxyPort, handler)
	if err := proxyServer.Start(); err != nil {
		log.Fatal("Failed to start proxy server", "error", err)
	}
	if err := apiServer.Start(); err != nil {
		proxyServer.Stop()
		log.Fatal("Failed to start management API", "error", err)
	}

	if client, err := support.GetRedisClient(); err == nil {
		runtime.LaunchInstanceHeartbeat(rootCtx, client, cfg.HeartbeatInterval)
		cluster.EnableSynchronization(rootCtx, client, func(context.Context) error {
			settings, err := database.GetSettings()
			if err != nil {
				return err
			}
			return applySettings(*settings)
		})
	} else {
		log.Debug("Redis not configured, running standalone", "error", err)
	}

	go cleanup.StartLogCleanup(rootCtx, func() int {
		if settings, err := database.GetSettings(); err == nil {
			return settings.LogRetentionDays
		}
		return cfg.LogRetentionDays
	}, cleanup.DefaultSweepInterval)

	go cleanup.StartProxyAutoDelete(rootCtx, func() int {
		if settings, err := database.GetSettings(); err == nil {
			return settings.AutoDeleteAfterSeconds
		}
		return cfg.AutoDeleteAfterSeconds
	}, cleanup.DefaultAutoDeleteInterval, func(archived []domain.DeletedProxy) {
		for _, row := range archived {
			reg.Remove(row.ID)
		}
	})

	log.Info("Rota is up",
		"proxy_addr", proxyServer.Addr(),
		"api_addr", apiServer.Addr(),
		"strategy", string(selector.Strategy()),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	cancelRoot()
	proxyServer.Stop()
	apiServer.Stop()
	recorder.Close()
}

// loadRegistry mirrors the proxies table into memory. Checking rows are
// reset to active so an interrupted probe round cannot strand them.
func loadRegistry() (*registry.Registry, error) {
	proxies, err := database.GetAllProxies()
	if err != nil {
		return nil, err
	}

	entries := make([]registry.Entry, 0, len(proxies))
	for _, proxy := range proxies {
		status := registry.Status(proxy.Status)
		if status == registry.StatusChecking {
			status = registry.StatusActive
		}
		entries = append(entries, registry.Entry{
			ID:       proxy.ID,
			Host:     proxy.Host,
			Port:     proxy.Port,
			Protocol: proxy.Protocol,
			Username: proxy.Username,
			Password: proxy.Password,
			Status:   status,
		})
	}
	return registry.New(entries), nil
}

func configureLogging(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	log.SetReportTimestamp(true)
}
