package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/connectify-dev/meet-api/internal/data"
	"github.com/connectify-dev/meet-api/internal/mailer"
	"github.com/connectify-dev/meet-api/internal/sfu"
)

type application struct {
	logger *log.Logger
	config config
	pool   *pgxpool.Pool
	models *data.Models
	hub    *Hub
	sfu    *sfu.Coordinator
	mailer mailer.Mailer
}

type config struct {
	port      string
	dsn       string
	webURL    string
	jwtSecret string
	cors      struct {
		allowedOrigins []string
	}
	google struct {
		clientID     string
		clientSecret string
		redirectURL  string
	}
	resend struct {
		apiKey    string
		fromEmail string
	}
	sfu sfu.PionConfig
}

func main() {
	godotenv.Load()

	var cfg config
	parseFlags(&cfg)

	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	if cfg.jwtSecret == "" {
		logger.Fatal("a jwt secret is required")
	}

	pool, err := getPool(context.Background(), cfg.dsn)
	if err != nil {
		logger.Fatal(err)
	}

	engine, err := sfu.NewPionEngine(cfg.sfu, logger)
	if err != nil {
		logger.Fatal(err)
	}

	models := data.NewModels(pool)
	app := application{
		logger: logger,
		config: cfg,
		pool:   pool,
		models: models,
		hub:    NewHub(logger),
		sfu:    sfu.NewCoordinator(engine, logger),
		mailer: mailer.NewResendMailer(cfg.resend.apiKey, cfg.resend.fromEmail),
	}

	server := &http.Server{
		Handler:      app.routes(),
		Addr:         fmt.Sprintf(":%s", cfg.port),
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	logger.Printf("server starting at port %s", cfg.port)
	err = server.ListenAndServe()
	logger.Fatal(err)
}

func getPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return pool, nil
}

func parseFlags(cfg *config) {
	flag.StringVar(&cfg.port, "port", "8080", "API server port")
	flag.StringVar(&cfg.dsn, "dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL DSN")
	flag.StringVar(&cfg.webURL, "web-url", envOr("WEB_URL", "http://localhost:3000"), "Frontend URL")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "JWT signing secret")

	flag.StringVar(&cfg.google.clientID, "google-client-id", os.Getenv("GOOGLE_CLIENT_ID"), "Google Client ID")
	flag.StringVar(&cfg.google.clientSecret, "google-client-secret", os.Getenv("GOOGLE_CLIENT_SECRET"), "Google Client Secret")
	flag.StringVar(&cfg.google.redirectURL, "google-redirect-url", os.Getenv("GOOGLE_REDIRECT_URL"), "Google Redirect URL")

	flag.StringVar(&cfg.resend.apiKey, "resend-api-key", os.Getenv("RESEND_API_KEY"), "Resend API Key")
	flag.StringVar(&cfg.resend.fromEmail, "resend-from-email", os.Getenv("RESEND_FROM_EMAIL"), "Sender address for outbound email")

	flag.StringVar(&cfg.sfu.PublicIP, "sfu-public-ip", os.Getenv("SFU_PUBLIC_IP"), "Public IP advertised in ICE candidates")
	minPort := flag.Uint("sfu-min-udp-port", 10000, "Lower bound of the media UDP port range")
	maxPort := flag.Uint("sfu-max-udp-port", 10100, "Upper bound of the media UDP port range")
	flag.Func("sfu-ice-servers", "A list of ICE server URLs", func(s string) error {
		cfg.sfu.ICEServers = strings.Split(s, " ")
		return nil
	})

	cfg.cors.allowedOrigins = []string{"http://localhost:3000"}
	flag.Func("allowed-origins", "A list of allowed origins", func(s string) error {
		cfg.cors.allowedOrigins = strings.Split(s, " ")
		return nil
	})

	flag.Parse()

	cfg.sfu.MinUDPPort = uint16(*minPort)
	cfg.sfu.MaxUDPPort = uint16(*maxPort)
	if len(cfg.sfu.ICEServers) == 0 {
		cfg.sfu.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
}

// envOr returns the environment variable's value, or fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
