package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"briefline/internal/app"
	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/llm"
	"briefline/internal/logging"
	"briefline/internal/mcpserver"
	"briefline/internal/migrate"
	"briefline/internal/repo"
	"briefline/internal/server"
)

var version = "0.1.0"

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:     "bl",
	Short:   "Briefline CLI",
	Version: version,
	Long: `Briefline turns business briefs into Initiatives, Features, Epics and Stories.
Core concepts:
- Workspace: the .briefline directory holding the database; briefline.yml seeds new projects.
- Brief: the business intent (objective, outcomes, scope, criteria, impacts). Statuses go draft -> submitted -> in_review -> approved/rejected.
- Assessment: a field-by-field green/amber/red grade of a brief. Red briefs are blocked from generation unless approved.
- Generation: one model-driven run that creates the children of a brief or item, checked for duplicates and parent consistency.
- Hierarchy: brief -> initiative -> feature -> epic -> story; 'bl item trace' walks back up.
- Event log: every change, view with 'bl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(viper.GetBool("verbose"), viper.GetBool("quiet"), viper.GetBool("log-json"))
		if err != nil {
			return err
		}
		logger = l
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BRIEFLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "local-user", "actor identifier")
	pf.Bool("force", false, "force operation")
	pf.String("project", "", "project id (overrides the single-project default)")
	pf.String("provider", "", "model provider override (google, openai, anthropic)")
	pf.String("model", "", "model name override")
	pf.String("api-key", "", "provider API key (defaults to the provider environment variable)")
	pf.BoolP("verbose", "v", false, "debug logging")
	pf.BoolP("quiet", "q", false, "only log warnings and errors")
	pf.Bool("log-json", false, "log as JSON")
	for _, name := range []string{"workspace", "json", "actor-id", "force", "project", "provider", "model", "api-key", "verbose", "quiet", "log-json"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(briefCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(levelsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func initCmd() *cobra.Command {
	var desc string
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "init <project-id>",
		Short: "Create a project in the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			id := args[0]
			if writeConfig {
				path := config.Path(workspace)
				if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
					if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
						return err
					}
					fmt.Println("wrote", path)
				}
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg != nil {
				cfg.Project.ID = id
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, cfg, nil, logger)
				p, err := e.InitProject(ctx, id, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "project description")
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "write a default briefline.yml when none exists")
	return cmd
}

func levelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "Show the workflow hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(domain.Levels)
			}
			tw := newTable("Level", "Title", "Parent")
			for _, l := range domain.Levels {
				tw.AppendRow(table.Row{l.Name, l.Title, l.Parent})
			}
			tw.Render()
			return nil
		},
	}
}

func generateCmd() *cobra.Command {
	var level, extra string
	var minCount int
	cmd := &cobra.Command{
		Use:   "generate <parent-id>",
		Short: "Generate and save the children of a brief or item",
		Long:  "Runs the model against a brief (producing Initiatives), an Initiative (Features), a Feature (Epics) or an Epic (Stories). Duplicates and items that do not fit the parent are rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.GenerateOptions{
					ParentID: args[0],
					Settings: modelSettings(e),
					MinCount: minCount,
					Extra:    extra,
					ActorID:  viper.GetString("actor-id"),
				}
				if level != "" {
					l, err := domain.ParseLevel(level)
					if err != nil {
						return err
					}
					opts.ParentLevel = l
				}
				res, err := e.GenerateChildren(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable("ID", "Level", "Title", "Priority")
				for _, it := range res.Saved {
					tw.AppendRow(table.Row{it.ID, it.Level, it.Title, it.Priority})
				}
				tw.Render()
				fmt.Printf("saved %d %s, rejected %d, %d iteration(s), %d tokens, %s\n",
					len(res.Saved), res.Run.TargetLevel.Plural(), len(res.Run.Rejected),
					res.Run.Iterations, res.Run.TokensUsed, res.Run.Elapsed.Round(time.Millisecond))
				for _, r := range res.Run.Rejected {
					fmt.Printf("  rejected %q: %s\n", r.Title, r.Reason)
				}
				for _, f := range res.Failed {
					fmt.Printf("  save failed %q: %s\n", f.Title, f.Error)
				}
				for _, w := range res.Warnings {
					fmt.Println("warning:", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "parent level (brief, initiative, feature, epic)")
	cmd.Flags().IntVar(&minCount, "min", 0, "minimum number of children (defaults to the config)")
	cmd.Flags().StringVar(&extra, "extra", "", "additional instructions for the model")
	return cmd
}

func parseCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse raw model output from a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if filePath == "" || filePath == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(filePath)
			}
			if err != nil {
				return err
			}
			var e engine.Engine
			return printJSON(e.ParseStructuredOutput(string(data)))
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "file with raw model output (default stdin)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
		Long:  "The project config (stored in the DB) selects the model, generation limits and the quality gate. Import from briefline.yml to change it.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the project config stored in the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				cfg.Project.ID = projectID
				if err := e.ImportConfig(ctx, projectID, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "briefline.yml", "path to YAML config")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the stored config and the resolved model settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Config.Validate(); err != nil {
					return err
				}
				return modelSettings(e).Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := e.CreateAPIKey(ctx, e.Config.Project.ID, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plaintext})
				}
				fmt.Printf("api key %s for %s\n%s\n", key.ID, key.ActorID, plaintext)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Actor", "Name", "Created")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	keys.AddCommand(create, list)
	return keys
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: briefs submitted and assessed, generations, items created.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var follow bool
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				f.Limit = n
				evts, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				// oldest first
				for i, j := 0, len(evts)-1; i < j; i, j = i+1, j-1 {
					evts[i], evts[j] = evts[j], evts[i]
				}
				printEvents(evts)
				if !follow {
					return nil
				}
				var cursor int64
				if len(evts) > 0 {
					cursor = evts[len(evts)-1].ID
				}
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					next, err := e.Repo.EventsAfter(ctx, 100, cursor, f.ProjectID)
					if err != nil {
						return err
					}
					if len(next) > 0 {
						printEvents(next)
						cursor = next[len(next)-1].ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func printEvents(evts []domain.Event) {
	if viper.GetBool("json") {
		for _, evt := range evts {
			b, _ := json.Marshal(evt)
			fmt.Println(string(b))
		}
		return
	}
	for _, evt := range evts {
		fmt.Printf("%6d %s %-22s %-8s %s %s %s\n", evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID, evt.Payload)
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: allowActorHeader,
					Logger:                 logger.Named("auth"),
				}
				if authCfg.JWTSecret == "" && !allowActorHeader {
					logger.Warn("BRIEFLINE_JWT_SECRET is not set; only API keys will authenticate")
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     authCfg,
					Keys:     keyResolver(),
					Logger:   logger.Named("http"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath), zap.String("project", e.Config.Project.ID))
				fmt.Printf("Serving Briefline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (BRIEFLINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "DEV ONLY: trust the X-Actor-Id header")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func mcpCmd() *cobra.Command {
	var transport, addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server for agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				srv := mcpserver.New(mcpserver.Config{
					Engine:    e,
					ProjectID: e.Config.Project.ID,
					ActorID:   viper.GetString("actor-id"),
					Keys:      keyResolver(),
					Logger:    logger.Named("mcp"),
					Version:   version,
				})
				switch transport {
				case "stdio":
					logger.Info("mcp server starting", zap.String("transport", "stdio"))
					return srv.Run(ctx, &mcp.StdioTransport{})
				case "http":
					handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
						return srv
					}, nil)
					httpSrv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
					go func() {
						<-ctx.Done()
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						httpSrv.Shutdown(shutdownCtx)
					}()
					logger.Info("mcp server listening", zap.String("addr", addr))
					if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				default:
					return fmt.Errorf("unknown transport %q (use stdio or http)", transport)
				}
			})
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8081", "listen address for the http transport")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg, llm.NewRouter(logger.Named("llm")), logger)
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// modelSettings layers the --provider/--model/--api-key flags over the
// project config.
func modelSettings(e engine.Engine) llm.Settings {
	return app.ResolveSettings(e.Config, app.ModelOverride{
		Provider: viper.GetString("provider"),
		Model:    viper.GetString("model"),
		APIKey:   viper.GetString("api-key"),
	}, keyResolver())
}

func keyResolver() app.KeyResolver {
	return llm.ResolveAPIKey
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
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

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
