// Package main provides the CLI entry point for sshwarpd, the multi-user
// SSH room server.
//
// # Basic Usage
//
// Start the server:
//
//	sshwarpd serve --config sshwarpd.yaml
//
// Validate a configuration file without starting anything:
//
//	sshwarpd config validate --config sshwarpd.yaml
//
// Manage the public keys allowed to authenticate:
//
//	sshwarpd keys add --config sshwarpd.yaml --name abert --pubkey ~/.ssh/id_ed25519.pub
//	sshwarpd keys list --config sshwarpd.yaml
//
// # Environment Variables
//
//   - SSHWARPD_CONFIG: path to the configuration file (default: sshwarpd.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: referenced by a model entry's api_key_env
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	gossh "golang.org/x/crypto/ssh"

	"github.com/tobert/sshwarpd/internal/auth"
	"github.com/tobert/sshwarpd/internal/config"
	"github.com/tobert/sshwarpd/internal/dispatch"
	"github.com/tobert/sshwarpd/internal/dispatch/providers"
	"github.com/tobert/sshwarpd/internal/mcp"
	"github.com/tobert/sshwarpd/internal/observability"
	"github.com/tobert/sshwarpd/internal/router"
	"github.com/tobert/sshwarpd/internal/rules"
	"github.com/tobert/sshwarpd/internal/script"
	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/internal/store/sqlitestore"
	transportssh "github.com/tobert/sshwarpd/internal/transport/ssh"
	"github.com/tobert/sshwarpd/pkg/models"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sshwarpd",
		Short:        "sshwarpd - multi-user SSH room server",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildKeysCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("SSHWARPD_CONFIG")); p != "" {
		return p
	}
	return "sshwarpd.yaml"
}

// --- serve ---

func buildServeCmd() *cobra.Command {
	var configPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SSH room server",
		Example: `  sshwarpd serve --config sshwarpd.yaml
  sshwarpd serve --config sshwarpd.yaml --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve /metrics on (empty disables)")
	return cmd
}

func runServe(ctx context.Context, configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: observability.LogLevelFromString(cfg.Log.Level)}))
	if cfg.Log.Format == "text" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: observability.LogLevelFromString(cfg.Log.Level)}))
	}
	slog.SetDefault(logger)

	logger.Info("starting sshwarpd", "version", version, "commit", commit, "config", configPath, "listen_addr", cfg.ListenAddr)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	hostKey, err := loadOrCreateHostKey(cfg.HostKeyPath)
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}

	lobby, err := ensureRoom(ctx, st, "lobby")
	if err != nil {
		return fmt.Errorf("ensure lobby room: %w", err)
	}

	authSvc := auth.NewService(auth.Config{}, ctxlessKeyStore{store: st})

	mcpMgr := mcp.NewManager(buildMCPConfig(cfg), logger)
	if err := mcpMgr.Start(ctx); err != nil {
		logger.Warn("mcp manager start reported errors", "error", err)
	}

	toolCtx := router.ToolContext{
		RoomID:   lobby.ID,
		Store:    st,
		External: &router.MCPAdapter{Manager: mcpMgr},
	}
	rtr := router.New(toolCtx, &router.MCPAdapter{Manager: mcpMgr}, logger)
	for _, srv := range cfg.MCPServers {
		if srv.RateRPS > 0 {
			rtr.SetServerRateLimit(srv.ID, srv.RateRPS, srv.RateBurst)
		}
	}

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "sshwarpd",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("shut down tracer", "error", err)
		}
	}()

	registry := script.NewRegistry(st, logger)
	rulesEngine := rules.New(st, rules.WithLogger(logger), rules.WithMetrics(metrics))

	providerMap, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	modelMap := make(map[string]config.ModelEntry, len(cfg.Models))
	for _, m := range cfg.Models {
		modelMap[m.ShortName] = m
	}

	sshCfg := transportssh.Config{
		HostKeys:   []gossh.Signer{hostKey},
		Auth:       authSvc,
		LobbyRoom:  lobby.Name,
		Store:      st,
		Registry:   registry,
		Router:     rtr,
		Rules:      rulesEngine,
		Providers:  providerMap,
		Models:     modelMap,
		MaxTurns:   cfg.DefaultMaxTurns,
		WrapBudget: cfg.WrapBudget,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	}
	srv, err := transportssh.NewServer(sshCfg)
	if err != nil {
		return fmt.Errorf("build ssh server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, ln)
	}()

	logger.Info("sshwarpd listening", "addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("ssh server stopped", "error", err)
		}
	}

	_ = ln.Close()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("sshwarpd stopped")
	return nil
}

// ctxlessKeyStore adapts store.Store to auth.KeyStore's context-free
// contract, the same adaptation transport/ssh's keystore.go makes: key
// lookups happen on the SSH handshake path before any per-request context
// exists, so a background context is the right default here too.
type ctxlessKeyStore struct{ store store.Store }

func (k ctxlessKeyStore) LookupByFingerprint(fingerprint string) (*models.PublicKey, error) {
	return k.store.LookupByFingerprint(context.Background(), fingerprint)
}

func (k ctxlessKeyStore) GetAgent(agentID string) (*models.Agent, error) {
	return k.store.GetAgent(context.Background(), agentID)
}

func ensureRoom(ctx context.Context, st store.Store, name string) (*models.Room, error) {
	room, err := st.GetRoomByName(ctx, name)
	if err == nil {
		return room, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	room = &models.Room{Name: name, Vibe: "a quiet starting room"}
	if err := st.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DataDir == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return sqlitestore.Open(filepath.Join(cfg.DataDir, "sshwarpd.db"))
}

func buildMCPConfig(cfg *config.Config) *mcp.Config {
	servers := make([]*mcp.ServerConfig, 0, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		transport := mcp.TransportStdio
		if s.Transport == "http" {
			transport = mcp.TransportHTTP
		}
		servers = append(servers, &mcp.ServerConfig{
			ID:        s.ID,
			Name:      s.ID,
			Transport: transport,
			Command:   s.Command,
			Args:      s.Args,
			URL:       s.URL,
			Headers:   s.Headers,
			AutoStart: true,
		})
	}
	return &mcp.Config{Enabled: len(servers) > 0, Servers: servers}
}

// buildProviders constructs one dispatch.Provider per distinct backend
// referenced by cfg.Models, keyed by backend name (session.Config.Providers
// is looked up by models.ModelEntry.Backend, not by model short name).
func buildProviders(cfg *config.Config) (map[string]dispatch.Provider, error) {
	out := make(map[string]dispatch.Provider)
	for _, m := range cfg.Models {
		if _, ok := out[m.Backend]; ok {
			continue
		}
		apiKey := os.Getenv(m.APIKeyEnv)
		switch m.Backend {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       apiKey,
				BaseURL:      m.Endpoint,
				DefaultModel: m.ShortName,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			out[m.Backend] = p
		case "openai":
			p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:       apiKey,
				BaseURL:      m.Endpoint,
				DefaultModel: m.ShortName,
			})
			if err != nil {
				return nil, fmt.Errorf("openai provider: %w", err)
			}
			out[m.Backend] = p
		default:
			return nil, fmt.Errorf("unsupported model backend %q", m.Backend)
		}
	}
	return out, nil
}

// loadOrCreateHostKey loads an existing OpenSSH-format ed25519 private key
// from path, generating and persisting one on first run. sshwarpd has no
// legacy host-key material to migrate, so ed25519 is the only key type
// ever written here.
func loadOrCreateHostKey(path string) (gossh.Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return gossh.ParsePrivateKey(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "sshwarpd host key")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create host key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	return gossh.NewSignerFromKey(priv)
}

// --- config ---

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration utilities"}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d model(s), %d mcp server(s), listen %s\n",
				len(cfg.Models), len(cfg.MCPServers), cfg.ListenAddr)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

// --- keys ---

func buildKeysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage authorized public keys"}
	cmd.AddCommand(buildKeysAddCmd(), buildKeysListCmd())
	return cmd
}

func buildKeysAddCmd() *cobra.Command {
	var configPath, name, pubkeyPath string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a public key for a human agent",
		Example: `  sshwarpd keys add --config sshwarpd.yaml --name abert --pubkey ~/.ssh/id_ed25519.pub`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			raw, err := os.ReadFile(pubkeyPath)
			if err != nil {
				return fmt.Errorf("read public key: %w", err)
			}
			pub, comment, _, _, err := gossh.ParseAuthorizedKey(raw)
			if err != nil {
				return fmt.Errorf("parse public key: %w", err)
			}
			if comment == "" {
				comment = name
			}

			ctx := cmd.Context()
			agent := &models.Agent{ID: uuid.NewString(), Kind: models.AgentHuman, DisplayName: name}
			if err := st.PutAgent(ctx, agent); err != nil {
				return fmt.Errorf("put agent: %w", err)
			}
			key := &models.PublicKey{
				AgentID:     agent.ID,
				Fingerprint: gossh.FingerprintSHA256(pub),
				KeyData:     pub.Marshal(),
				Comment:     comment,
			}
			if err := st.PutPublicKey(ctx, key); err != nil {
				return fmt.Errorf("put public key: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "added agent %s (%s) with key %s\n", agent.ID, name, key.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&name, "name", "", "Display name for the agent")
	cmd.Flags().StringVar(&pubkeyPath, "pubkey", "", "Path to an authorized_keys-format public key file")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}

func buildKeysListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents (memory backend shows nothing useful; use sqlite)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.DataDir == ":memory:" {
				return fmt.Errorf("keys list requires a persistent data_dir, not :memory:")
			}
			st, err := sqlitestore.Open(filepath.Join(cfg.DataDir, "sshwarpd.db"))
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "use `sqlite3` against the store's db file to inspect agents/public_keys directly")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}
