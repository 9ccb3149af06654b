package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"qcline/internal/app"
	"qcline/internal/config"
	"qcline/internal/db"
	"qcline/internal/domain"
	"qcline/internal/engine"
	"qcline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "qc",
	Short: "qcline CLI",
	Long: `qcline reviews content, SEO, web and marketing assets against weighted checklists.
Core concepts:
- Workspace: a directory holding qc.yml (roles, classification mapping, review settings) and .qcline/qcline.db.
- Checklist: scored items linked to modules; the newest active checklist for an asset's module applies.
- Asset: moves Draft -> PendingQCReview -> QCApproved / QCRejected / ReworkRequired; rework goes back to PendingQCReview.
- Review: a reviewer marks every item Pass or Fail; the score and checklist settings decide the outcome.
- Roles: admin, qc_reviewer and author by default; the first actor to use a workspace becomes admin.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// .env values never override variables already set in the environment.
	workspace := viper.GetString("workspace")
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("QC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "", "act under this role instead of the strongest granted one")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "role", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(assetCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage qc.yml"}
	cfgCmd.AddCommand(configInitCmd())
	cfgCmd.AddCommand(configShowCmd())
	cfgCmd.AddCommand(configValidateCmd())
	return cfgCmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default qc.yml and a .env with a JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			envPath := filepath.Join(workspace, ".env")
			env, err := godotenv.Read(envPath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return err
				}
				env = map[string]string{}
			}
			if env["QC_JWT_SECRET"] == "" {
				buf := make([]byte, 32)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				env["QC_JWT_SECRET"] = hex.EncodeToString(buf)
				if err := godotenv.Write(env, envPath); err != nil {
					return err
				}
			}
			fmt.Printf("Wrote %s and %s\n", path, envPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing qc.yml")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Role", "Capabilities"})
			for name, role := range cfg.RBAC.Roles {
				tw.AppendRow(table.Row{name, strings.Join(role.Capabilities, ", ")})
			}
			tw.SortBy([]table.SortBy{{Name: "Role", Mode: table.Asc}})
			tw.Render()
			fmt.Printf("default role: %s, persist timeout: %s, cache size: %d\n", cfg.Auth.DefaultRole, cfg.PersistTimeout(), cfg.CacheSize())
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate qc.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]bool{"valid": true})
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, allowDevLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("QC_JWT_SECRET is required for bearer auth (qc config init writes one to .env)")
			}
			logger := newLogger()
			e, err := app.Open(cmd.Context(), viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer e.DB.Close()
			if _, err := app.SeedOwner(cmd.Context(), e, viper.GetString("actor-id")); err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        secret,
					AllowActorHeader: allowActorHeader,
					AllowDevLogin:    allowDevLogin,
					Logger:           logger,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving qcline API", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving qcline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "DEV ONLY: trust X-Actor-Id without credentials")
	cmd.Flags().BoolVar(&allowDevLogin, "allow-dev-login", false, "DEV ONLY: expose POST /auth/dev/login")
	return cmd
}

// --- helpers ---

// withEngine opens the workspace, makes the first actor admin and runs fn
// as the CLI actor.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	e, err := app.Open(ctx, viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer e.DB.Close()
	actorID := viper.GetString("actor-id")
	if _, err := app.SeedOwner(ctx, e, actorID); err != nil {
		return err
	}
	role, err := e.Auth.ResolveRole(ctx, actorID, e.Config.Auth.DefaultRole)
	if err != nil {
		return err
	}
	if want := viper.GetString("role"); want != "" && want != role {
		granted, err := e.Auth.ActorRoles(ctx, actorID)
		if err != nil {
			return err
		}
		if !slices.Contains(granted, want) {
			return fmt.Errorf("actor %s does not hold role %q", actorID, want)
		}
		role = want
	}
	return fn(ctx, e, domain.Actor{ID: actorID, Role: role})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
