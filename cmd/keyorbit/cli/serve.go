package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/server"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/service"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/session"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

const banner = `
 _  __          ___       _     _ _
| |/ /___ _   _/ _ \ _ __| |__ (_) |_
| ' </ _ \ | | | | | | '__| '_ \| | __|
| . \  __/ |_| | |_| | |  | |_) | | |_
|_|\_\___|\__, |\___/|_|  |_.__/|_|\__|
          |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the KeyOrbit API server",
		Long:  "Start the HTTP server that issues, validates, and manages API access tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	// Set up logger
	logLevel := slog.LevelInfo
	if dev || viper.GetString("logging.level") == "debug" {
		logLevel = slog.LevelDebug
	}
	var logger *slog.Logger
	if viper.GetString("logging.format") == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	// 1. Open the token store (SQLite)
	st, err := store.NewStore(resolveDataDir())
	if err != nil {
		return fmt.Errorf("init token store: %w", err)
	}
	defer st.Close()
	logger.Info("token store initialized", "path", resolveDataDir())

	// 2. Connect the session store (Redis)
	rdb := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	defer rdb.Close()
	sessions := session.NewStore(rdb)
	if err := sessions.Ping(context.Background()); err != nil {
		logger.Warn("session store unreachable, session auth will fail until it recovers", "error", err)
	} else {
		logger.Info("session store connected", "addr", viper.GetString("redis.addr"))
	}

	// 3. Build the services
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "keyorbit-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using insecure dev default")
	}
	codec := newCodec()
	validator := service.NewValidator(st, codec, viper.GetInt64("auth.max_in_flight"), logger)
	lifecycle := service.NewLifecycle(st, codec, logger)
	authSvc := service.NewAuthService(validator, sessions, st, jwtSecret,
		configDuration("auth.session_ttl", service.DefaultSessionTTL), logger)

	// 4. Start the expiry sweeper
	sweeper := service.NewSweeper(st, configDuration("sweeper.interval", service.DefaultSweepInterval), logger)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	// 5. Check for first-run (no user exists)
	hasUser, err := st.HasAnyUser(context.Background())
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no user account found - run: keyorbit user create")
	}

	// 6. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.ShutdownTimeout = configDuration("server.shutdown_timeout", srvCfg.ShutdownTimeout)
	if origins := viper.GetStringSlice("server.cors.origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if rate := viper.GetInt("server.login_rate_per_min"); rate > 0 {
		srvCfg.LoginRatePerMin = rate
	}

	srv := server.New(srvCfg, st, sessions, validator, lifecycle, authSvc, logger)

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ API:     http://%s:%d/api/v1\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
