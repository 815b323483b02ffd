package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norm1388/norms-planning-poker/internal/config"
	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/game"
	"github.com/norm1388/norms-planning-poker/internal/ws"
)

var version = "dev" // Set at build time via -ldflags

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Planning Poker - real-time estimation rooms

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  ENV                 "development" for console logs, anything else for JSON
  STORE               Document store: "memory" or "redis" (default: memory)
  REDIS_URL           Redis URL when STORE=redis (default: redis://localhost:6379/0)
  PRESENCE_INTERVAL   Presence heartbeat interval (default: 15s)
  EXPORT_ENABLED      Append revealed rounds to a file (default: false)
  EXPORT_FILE         Path of the export file (default: ./planning-poker-results.txt)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("planning-poker %s\n", version)
		return
	}

	cfg := config.Load()
	if *portFlag != "" {
		cfg.Port = *portFlag
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Dev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("store unavailable")
	}
	defer st.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") || path == "/metrics" {
			return
		}
		log.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "store": cfg.Store})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Deep links only pre-fill the entry screen; joining needs a name.
	r.GET("/room/:code", func(c *gin.Context) {
		code := game.NormalizeCode(c.Param("code"))
		if !game.ValidCode(code) {
			c.Redirect(http.StatusFound, "/")
			return
		}
		c.Redirect(http.StatusFound, "/?code="+code)
	})
	r.GET("/", func(c *gin.Context) {
		code := game.NormalizeCode(c.Query("code"))
		if !game.ValidCode(code) {
			code = ""
		}
		c.JSON(http.StatusOK, gin.H{"code": code, "cards": game.CardValues, "version": version})
	})

	sock := ws.New(st, cfg)
	io := sock.Mount(r)
	defer io.Close()

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Str("store", cfg.Store).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return docstore.NewMemoryStore(), nil
	case config.StoreRedis:
		st, err := docstore.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("connected to Redis")
		return st, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
