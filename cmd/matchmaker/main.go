// matchmaker - mini-game match orchestration service
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/miniverse/matchmaker/internal/allocator"
	"github.com/miniverse/matchmaker/internal/api"
	"github.com/miniverse/matchmaker/internal/config"
	"github.com/miniverse/matchmaker/internal/metrics"
	"github.com/miniverse/matchmaker/internal/registry"
	"github.com/miniverse/matchmaker/internal/remoteconfig"
	"github.com/miniverse/matchmaker/internal/token"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "matches":
		cmdMatches(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("matchmaker %s\n", buildVersion())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: matchmaker <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                       Start the matchmaker server")
	fmt.Println("  status                      Show server health and pool load")
	fmt.Println("  matches [--minigame id]     Show active matches")
	fmt.Println("  token sign --match <id> --player <id>")
	fmt.Println("                              Sign a join token")
	fmt.Println("  token verify <token>        Verify a join token")
	fmt.Println("  version                     Show version")
	fmt.Println("  help                        Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to YAML config file (optional, MATCHMAKER_* env also applies)")
	fmt.Println("  --url <url>        Base URL of the matchmaker server (default http://localhost:8080)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  matchmaker serve --config /etc/matchmaker/config.yml")
	fmt.Println("  matchmaker matches --minigame arena_v1")
	fmt.Println("  matchmaker token verify eyJt...abc")
}

// buildVersion resolves the reported build version: the BUILD_VERSION
// environment variable, then a build_version.txt beside the binary, then the
// compiled-in default.
func buildVersion() string {
	if v := os.Getenv("BUILD_VERSION"); v != "" {
		return v
	}
	if exe, err := os.Executable(); err == nil {
		if data, err := os.ReadFile(filepath.Join(filepath.Dir(exe), "build_version.txt")); err == nil {
			if v := strings.TrimSpace(string(data)); v != "" {
				return v
			}
		}
	}
	return version
}

// cmdServe starts the HTTP server and all background loops
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Parse(args)

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logrus.SetLevel(lvl)
	}
	log := logrus.WithFields(logrus.Fields{
		"service":   "matchmaker",
		"component": "main",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("config_load_failed")
	}

	log.WithFields(logrus.Fields{
		"version": buildVersion(),
		"port":    cfg.Server.Port,
	}).Info("matchmaker_starting")
	if cfg.Auth.Secret == "dev_secret_change_me" {
		log.Warn("default_secret_in_use")
	}

	codec := token.NewCodec(cfg.Auth.Secret)
	policy := remoteconfig.NewCache(cfg.Policy.Path, cfg.Policy.CacheTTL)
	collector := metrics.New(cfg.Alerts.ErrorThreshold, cfg.Alerts.Window)

	var backend allocator.Backend
	if cfg.Host.Enabled {
		backend = allocator.NewSupervisor(cfg.Host)
		log.WithFields(logrus.Fields{
			"base_port": cfg.Host.BasePort,
			"max_rooms": cfg.Host.MaxRooms,
		}).Info("host_supervisor_enabled")
	} else {
		backend = allocator.NewPool(cfg.Pool.Servers, cfg.Pool.DefaultEndpoint)
	}

	reg := registry.New(cfg.Registry, cfg.Auth.TokenTTL, backend, codec, policy, collector)
	reg.Start()

	router := api.NewRouter(reg, backend, codec, policy, collector, cfg.RateLimit, buildVersion())
	router.Start()

	// WebSocket upgrades hijack the connection, so they skip the gzip layer.
	gzipped := gzhttp.GzipHandler(router)
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" {
			router.ServeHTTP(w, req)
			return
		}
		gzipped.ServeHTTP(w, req)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http_listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutdown_signal")
	case err := <-serverErr:
		log.WithError(err).Fatal("http_server_failed")
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.WithError(err).Warn("http_shutdown_error")
	}

	router.Stop()
	reg.Stop()
	if sup, ok := backend.(*allocator.Supervisor); ok {
		sup.Shutdown()
	}
	log.Info("shutdown_complete")
}

// CLI helper state shared by the client subcommands
var baseURL = "http://localhost:8080"

// loadCLIConfig resolves the server base URL from flags and config
func loadCLIConfig(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		cfg = nil
	}

	if url != "" {
		baseURL = url
	} else if cfg != nil {
		host := cfg.Server.ListenAddr
		if host == "0.0.0.0" || host == "" {
			host = "localhost"
		}
		baseURL = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
	}
	return cfg
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	url := fs.String("url", "", "base URL of the matchmaker server")
	fs.Parse(args)

	loadCLIConfig(*configPath, *url)

	var health map[string]interface{}
	if err := getJSON("/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Status:   %v\n", health["status"])
	fmt.Printf("Version:  %v\n", health["build_version"])
	fmt.Printf("Uptime:   %vs\n", health["uptime_s"])
	fmt.Printf("Matches:  %v\n", health["matches"])
}

func cmdMatches(args []string) {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	url := fs.String("url", "", "base URL of the matchmaker server")
	minigame := fs.String("minigame", "", "filter by minigame id")
	fs.Parse(args)

	loadCLIConfig(*configPath, *url)

	path := "/matches"
	if *minigame != "" {
		path += "?minigame_id=" + *minigame
	}

	var matches []map[string]interface{}
	if err := getJSON(path, &matches); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(matches) == 0 {
		fmt.Println("No active matches")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MATCH\tMINIGAME\tSTATUS\tPLAYERS\tENDPOINT")
	fmt.Fprintln(w, "-----\t--------\t------\t-------\t--------")

	for _, m := range matches {
		players := fmt.Sprintf("%v/%v", m["players"], m["max_players"])
		fmt.Fprintf(w, "%v\t%v\t%v\t%s\t%v\n",
			m["match_id"], m["minigame_id"], m["status"], players, m["endpoint"])
	}
	w.Flush()
}

// cmdToken dispatches the token subcommands. Both work locally against the
// configured secret, without a running server.
func cmdToken(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: token subcommand required: sign, verify\n")
		os.Exit(1)
	}

	switch args[0] {
	case "sign":
		cmdTokenSign(args[1:])
	case "verify":
		cmdTokenVerify(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown token command: %s (use: sign, verify)\n", args[0])
		os.Exit(1)
	}
}

func tokenCodec(configPath string) *token.Codec {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return token.NewCodec(cfg.Auth.Secret)
}

func cmdTokenSign(args []string) {
	fs := flag.NewFlagSet("token sign", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	matchID := fs.String("match", "", "match id")
	playerID := fs.String("player", "", "player id")
	ttl := fs.Duration("ttl", 5*time.Minute, "token lifetime")
	fs.Parse(args)

	if *matchID == "" || *playerID == "" {
		fmt.Fprintf(os.Stderr, "usage: matchmaker token sign --match <id> --player <id> [--ttl 5m]\n")
		os.Exit(1)
	}

	codec := tokenCodec(*configPath)
	now := time.Now()
	tok, err := codec.Sign(token.Payload{
		MatchID:   *matchID,
		PlayerID:  *playerID,
		NotBefore: now.UnixMilli(),
		Expiry:    now.Add(*ttl).UnixMilli(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

func cmdTokenVerify(args []string) {
	fs := flag.NewFlagSet("token verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintf(os.Stderr, "usage: matchmaker token verify <token>\n")
		os.Exit(1)
	}

	codec := tokenCodec(*configPath)
	payload, err := codec.Verify(remaining[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Match:   %s\n", payload.MatchID)
	fmt.Printf("Player:  %s\n", payload.PlayerID)
	if payload.Expiry != 0 {
		fmt.Printf("Expires: %s\n", time.UnixMilli(payload.Expiry).Format(time.RFC3339))
	}
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
