package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"filebay/internal/config"
	"filebay/internal/httpserver"
	"filebay/internal/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hashkey" {
		hashkeyCmd(os.Args[2:])
		return
	}

	var (
		addr     = flag.String("addr", "", "listen address (default 0.0.0.0:5000)")
		storage  = flag.String("storage", "", "storage directory (required if -config is not set)")
		stateDir = flag.String("state", "", "state dir for thumbnails (default: <storage>/.filebay)")
		cfgPath  = flag.String("config", "", "path to config json (optional)")
		logLevel = flag.String("log-level", "", "log level: debug, info, warn, error")
	)
	flag.Parse()

	var cfg config.Config
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}
	// Flags override the config file; env fills the admin key last.
	if *storage != "" {
		cfg.StorageDir = *storage
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.AdminKey == "" && cfg.AdminKeyBcrypt == "" {
		cfg.AdminKey = os.Getenv("FILEBAY_ADMIN_KEY")
	}
	if strings.TrimSpace(cfg.StorageDir) == "" {
		fmt.Fprintln(os.Stderr, "missing -storage (or provide -config)")
		os.Exit(2)
	}
	if err := cfg.Normalize(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir state: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("filebay", cfg.LogLevel)

	srv, err := httpserver.New(httpserver.Options{
		Config: cfg,
		Logger: log,
	})
	if err != nil {
		log.Error("server init", "err", err)
		os.Exit(1)
	}

	log.Info("listening", "addr", cfg.Addr, "storage", cfg.StorageDir)
	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           withHeaders(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if err := hs.ListenAndServe(); err != nil {
		log.Error("listen", "err", err)
		os.Exit(1)
	}
}

func hashkeyCmd(args []string) {
	fs := flag.NewFlagSet("hashkey", flag.ExitOnError)
	var (
		key  = fs.String("k", "", "admin key to hash (required)")
		cost = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *key == "" {
		fmt.Fprintln(os.Stderr, "usage: filebay hashkey -k <key>")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(*key), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bcrypt: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(h))
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
