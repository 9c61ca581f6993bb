package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atriumforms/internal/app"
	"atriumforms/internal/config"
	"atriumforms/internal/db"
	"atriumforms/internal/domain"
	"atriumforms/internal/engine"
	"atriumforms/internal/migrate"
	"atriumforms/internal/repo"
	"atriumforms/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "atf",
	Short: "AtriumForms CLI",
	Long: `AtriumForms manages inspection and delivery forms for fire and security installations.
Core concepts:
- Workspace: your .atriumforms directory holding the database; atriumforms.yml beside it configures the server and lifecycle.
- Installation: a site identified by code, with externally synced record data, custom fields, energy supplies, documents and performance requirements.
- Prefill: resolves the semantic keys a form definition references into typed items from all registered sources.
- Form instance: one filled-in form going CONCEPT -> INGEDIEND -> IN_BEHANDELING -> AFGEHANDELD, with INGETROKKEN as the exit; saves are guarded by draft_rev.
- Risk: NEN2535 alarm-routing capacity maxima computed from performance requirement rows.
- Event log: diary of changes, view with 'atf log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ATRIUMFORMS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(installationCmd())
	rootCmd.AddCommand(prefillCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(riskCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Println("database is up to date")
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo installation, catalogs and form definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.Seed(ctx, r.DB, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("seeded installation %s with form %s\n", app.DemoInstallation, app.DemoForm)
				return nil
			})
		},
	}
}

func installationCmd() *cobra.Command {
	inst := &cobra.Command{Use: "installation", Short: "Manage installations"}
	inst.AddCommand(installationListCmd())
	inst.AddCommand(installationShowCmd())
	return inst
}

func installationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInstallations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Code", "Name", "Place", "Type"})
				for _, ins := range items {
					t.AppendRow(table.Row{ins.Code, ins.Name, ins.Place, ins.InstallationType})
				}
				t.Render()
				return nil
			})
		},
	}
}

func installationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show an installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ins, err := r.GetInstallation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ins)
			})
		},
	}
}

func prefillCmd() *cobra.Command {
	var installation, form string
	var keys []string
	cmd := &cobra.Command{
		Use:   "prefill",
		Short: "Resolve prefill data for an installation and form",
		RunE: func(cmd *cobra.Command, args []string) error {
			if installation == "" || form == "" {
				return fmt.Errorf("--installation and --form required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Resolve(ctx, installation, form, keys)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Key", "Kind", "Value"})
				for _, item := range items {
					var cell string
					if item.Kind == domain.KindChoices {
						cell = fmt.Sprintf("%d options", len(item.Choices))
					} else {
						cell = truncate(string(item.Value), 60)
					}
					t.AppendRow(table.Row{item.Key, item.Kind, cell})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&installation, "installation", "", "installation code")
	cmd.Flags().StringVar(&form, "form", "", "form code")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "keys to resolve (default: all keys the form references)")
	return cmd
}

func instanceCmd() *cobra.Command {
	inst := &cobra.Command{Use: "instance", Short: "Manage form instances"}
	inst.AddCommand(instanceStartCmd())
	inst.AddCommand(instanceListCmd())
	inst.AddCommand(instanceShowCmd())
	inst.AddCommand(instanceSaveCmd())
	inst.AddCommand(instanceSubmitCmd())
	inst.AddCommand(instanceActionCmd("withdraw", "Withdraw an instance", func(e engine.Engine) transitionFunc { return e.Withdraw }))
	inst.AddCommand(instanceActionCmd("reopen", "Reopen a withdrawn instance", func(e engine.Engine) transitionFunc { return e.Reopen }))
	inst.AddCommand(instanceActionCmd("behandel", "Mark an instance in handling", func(e engine.Engine) transitionFunc { return e.SetHandling }))
	inst.AddCommand(instanceActionCmd("afhandel", "Mark an instance handled", func(e engine.Engine) transitionFunc { return e.Finish }))
	return inst
}

type transitionFunc func(ctx context.Context, instanceID, actorID string) (domain.FormInstance, error)

func instanceStartCmd() *cobra.Command {
	var installation, form string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new form instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if installation == "" || form == "" {
				return fmt.Errorf("--installation and --form required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fi, err := e.StartForm(ctx, installation, form, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(fi)
			})
		},
	}
	cmd.Flags().StringVar(&installation, "installation", "", "installation code")
	cmd.Flags().StringVar(&form, "form", "", "form code")
	return cmd
}

func instanceListCmd() *cobra.Command {
	var installation, form string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List form instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if installation == "" {
				return fmt.Errorf("--installation required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListFormInstances(ctx, installation, form)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Form", "Status", "Rev", "Updated"})
				for _, fi := range items {
					t.AppendRow(table.Row{fi.ID, fi.FormCode, fi.Status, fi.DraftRev, fi.UpdatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&installation, "installation", "", "installation code")
	cmd.Flags().StringVar(&form, "form", "", "form code filter")
	return cmd
}

func instanceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a form instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fi, err := r.GetFormInstance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(fi)
			})
		},
	}
}

func instanceSaveCmd() *cobra.Command {
	var file string
	var rev int64
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "Save instance answers (reads JSON from --file or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := readAnswers(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fi, err := e.SaveAnswers(ctx, engine.SaveOptions{
					InstanceID:  args[0],
					Answers:     answers,
					ExpectedRev: rev,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(fi)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to answers JSON (default stdin)")
	cmd.Flags().Int64Var(&rev, "expected-rev", 0, "expected draft_rev")
	return cmd
}

func instanceSubmitCmd() *cobra.Command {
	var file string
	var rev int64
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a form instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var answers json.RawMessage
			if file != "" {
				data, err := readAnswers(file)
				if err != nil {
					return err
				}
				answers = data
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fi, err := e.Submit(ctx, engine.SubmitOptions{
					InstanceID:  args[0],
					ActorID:     viper.GetString("actor-id"),
					Answers:     answers,
					ExpectedRev: rev,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(fi)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to unsaved answers JSON (optional)")
	cmd.Flags().Int64Var(&rev, "expected-rev", 0, "expected draft_rev when --file is given")
	return cmd
}

func instanceActionCmd(action, short string, pick func(engine.Engine) transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fi, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(fi)
			})
		},
	}
}

func riskCmd() *cobra.Command {
	risk := &cobra.Command{Use: "risk", Short: "NEN2535 risk computation"}
	risk.AddCommand(riskShowCmd())
	risk.AddCommand(riskComputeCmd())
	return risk
}

func riskShowCmd() *cobra.Command {
	var installation string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Compute risk from stored performance requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if installation == "" {
				return fmt.Errorf("--installation required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ComputeRiskForInstallation(ctx, installation)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Gebruikersfunctie", "Doormelding", "Weighted", "Intern max", "Extern max"})
				for _, row := range res.PerRow {
					t.AppendRow(table.Row{row.GebruikersfunctieKey, row.Doormelding, row.Weighted, formatMax(row.InternMax), formatMax(row.ExternMax)})
				}
				t.AppendFooter(table.Row{"Totals", "", "", formatMax(res.Totals.InternTotal), formatMax(res.Totals.ExternTotal)})
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&installation, "installation", "", "installation code")
	return cmd
}

func riskComputeCmd() *cobra.Command {
	var normering, file string
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute risk from a rows JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if normering == "" || file == "" {
				return fmt.Errorf("--normering and --file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var rows []domain.PerformanceRow
			if err := json.Unmarshal(data, &rows); err != nil {
				return fmt.Errorf("parse rows: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ComputeRisk(ctx, normering, rows)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&normering, "normering", "", "normering key")
	cmd.Flags().StringVar(&file, "file", "", "path to JSON array of performance rows")
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog <name>",
		Short: "List catalog entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCatalog(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Key", "Label"})
				for _, entry := range items {
					t.AppendRow(table.Row{entry.Key, entry.Label})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, installation string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, installation, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&installation, "installation", "", "installation code filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	keys.AddCommand(apikeyCreateCmd())
	return keys
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("api key for %s: %s\n", actor, secret)
				fmt.Println("store it now; only the hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("ATRIUMFORMS_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if cfg.Auth.PrincipalCacheTTL != "" {
				ttl, err := time.ParseDuration(cfg.Auth.PrincipalCacheTTL)
				if err != nil {
					return fmt.Errorf("auth.principal_cache_ttl: %w", err)
				}
				authCfg.PrincipalCacheTTL = ttl
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("ATRIUMFORMS_JWT_SECRET is required when legacy actor header auth is disabled")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving AtriumForms API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
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

func readAnswers(file string) (json.RawMessage, error) {
	var data []byte
	var err error
	if file == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("answers must be valid JSON")
	}
	return json.RawMessage(data), nil
}

func formatMax(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
