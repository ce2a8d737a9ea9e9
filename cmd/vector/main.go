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

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"vector/internal/app"
	"vector/internal/config"
	"vector/internal/db"
	"vector/internal/engine"
	"vector/internal/engine/auth"
	"vector/internal/engine/progress"
	"vector/internal/logging"
	vectormcp "vector/internal/mcp"
	"vector/internal/migrate"
	"vector/internal/repo"
	"vector/internal/seed"
	"vector/internal/server"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vector",
	Short: "VECTOR journey progression engine",
	Long: `VECTOR tracks rehabilitation journeys against evidence-based protocols.
- Protocol: a pathology's ordered phases, each with exit criteria and programming slots.
- Journey: a client's path through one protocol; the current phase is active, earlier ones completed, later ones locked.
- Metric recording: an append-only measurement against an exit criterion; the latest one decides whether the criterion is met.
- Webhook: treatment notes from the practice management system are matched to criteria and recorded.
- Event log: every read and write is audited, view with 'vector log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VECTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default <workspace>/vector.yml when present)")
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("dsn", "", "database DSN (default sqlite in the workspace; postgres:// uses pgx)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded in the event log")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("dsn", flags.Lookup("dsn"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("actor-id", flags.Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(journeyCmd())
	rootCmd.AddCommand(metricCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect and create configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default vector.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			color.Green("✓ Wrote %s", path)
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			masked := *cfg
			masked.WebhookSecret = mask(masked.WebhookSecret)
			masked.JWTSecret = mask(masked.JWTSecret)
			if viper.GetBool("json") {
				return printJSON(masked)
			}
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(masked)
		},
	})
	return cfgCmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				v, err := migrate.Version(rt.DB)
				if err != nil {
					return err
				}
				color.Green("✓ Schema at version %d (%s)", v, rt.Dialect)
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	var demo bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import protocols (embedded base set or --file) and optionally the demo client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				doc, err := seed.Base()
				if file != "" {
					var data []byte
					data, err = os.ReadFile(file)
					if err != nil {
						return err
					}
					doc, err = seed.Parse(data)
				}
				if err != nil {
					return err
				}
				actor := viper.GetString("actor-id")
				sum, err := seed.Import(ctx, rt.Engine.Repo, doc, time.Now(), actor)
				if err != nil {
					return err
				}
				if demo {
					if err := seed.Demo(ctx, rt.Engine.Repo, time.Now(), actor); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"summary": sum, "demo": demo})
				}
				color.Green("✓ Imported %d protocols, %d phases, %d criteria, %d slots", sum.Protocols, sum.Phases, sum.Criteria, sum.Slots)
				if demo {
					color.Green("✓ Demo client %s on journey %s", seed.DemoClientID, seed.DemoJourneyID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed document (YAML or JSON)")
	cmd.Flags().BoolVar(&demo, "demo", false, "also create the demo client and recordings")
	return cmd
}

func journeyCmd() *cobra.Command {
	jc := &cobra.Command{Use: "journey", Short: "Client journeys"}
	jc.AddCommand(&cobra.Command{
		Use:   "show <client-id>",
		Short: "Show the client's active journey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				view, err := rt.Engine.GetJourney(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				printJourney(view)
				return nil
			})
		},
	})
	return jc
}

func printJourney(view engine.JourneyView) {
	c := view.Client
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)
	bold.Printf("%s (%s)\n", c.Name, c.ID)
	fmt.Printf("Goal: %s | Sport: %s\n", c.TerminalGoal, c.Sport)
	fmt.Printf("Protocol: %s [%s] started %s\n", c.Pathology, c.OsicsCode, c.StartDate)
	if c.ResearchSource != "" {
		faint.Printf("Research: %s %s\n", c.ResearchSource, c.ResearchDOI)
	}
	for _, p := range view.Phases {
		fmt.Println()
		fmt.Printf("%s %d. %s\n", statusLabel(p.Status), p.OrderIndex, p.Name)
		if p.Status != progress.StatusActive {
			continue
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Criterion", "Target", "Current", "Met"})
		for _, cr := range p.Criteria {
			current := "-"
			if cr.Current != nil {
				current = *cr.Current
			}
			met := color.RedString("no")
			if cr.Met {
				met = color.GreenString("yes")
			}
			tw.AppendRow(table.Row{cr.Label, cr.Target + " " + cr.Unit, current, met})
		}
		tw.Render()
		for _, s := range p.Programming {
			fmt.Printf("  [%s] %s", s.Type, s.Exercise)
			if s.HD != nil {
				faint.Printf("  HD: %s", *s.HD)
			}
			fmt.Println()
		}
	}
}

func statusLabel(s progress.Status) string {
	switch s {
	case progress.StatusActive:
		return color.YellowString("[active]   ")
	case progress.StatusCompleted:
		return color.GreenString("[completed]")
	default:
		return color.New(color.Faint).Sprint("[locked]   ")
	}
}

func metricCmd() *cobra.Command {
	mc := &cobra.Command{Use: "metric", Short: "Record and list metric recordings"}
	mc.AddCommand(metricRecordCmd())
	mc.AddCommand(metricHistoryCmd())
	return mc
}

func metricRecordCmd() *cobra.Command {
	var unit, at string
	cmd := &cobra.Command{
		Use:   "record <client-id> <metric-name> <value>",
		Short: "Record a metric against the client's current phase",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.RecordMetricInput{
				ClientID:   args[0],
				MetricName: args[1],
				Value:      args[2],
				Unit:       unit,
				ActorID:    viper.GetString("actor-id"),
				Source:     "cli",
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				in.RecordedAt = &t
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rec, err := rt.Engine.RecordMetric(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				color.Green("✓ Recorded %s = %s %s (%s)", rec.MetricName, rec.Value, rec.Unit, rec.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit (defaults to the criterion unit)")
	cmd.Flags().StringVar(&at, "at", "", "recorded at, RFC3339 (defaults to now)")
	return cmd
}

func metricHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <client-id>",
		Short: "List recordings of the client's active journey, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				_, recs, err := rt.Engine.ListRecordings(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Metric", "Value", "Unit", "Phase", "Recorded"})
				for _, r := range recs {
					tw.AppendRow(table.Row{r.ID, r.MetricName, r.Value, r.Unit, r.PhaseID, r.RecordedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max recordings (0 for all)")
	return cmd
}

func webhookCmd() *cobra.Command {
	wc := &cobra.Command{Use: "webhook", Short: "Treatment note webhooks"}
	wc.AddCommand(webhookIngestCmd())
	wc.AddCommand(webhookSignCmd())
	return wc
}

func webhookIngestCmd() *cobra.Command {
	var file, signature string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a treatment note payload from a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(file)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if signature != "" {
					if err := rt.Engine.VerifyWebhookSignature(ctx, body, signature); err != nil {
						return err
					}
				}
				res, err := rt.Engine.IngestWebhookEvent(ctx, body)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Status == engine.WebhookIgnored {
					color.Yellow("⚠ Ignored: %s", res.Reason)
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Label", "Status", "Metric", "Recording", "Reason"})
				for _, f := range res.Fields {
					tw.AppendRow(table.Row{f.Label, f.Status, f.MetricName, f.RecordingID, f.Reason})
				}
				tw.Render()
				color.Green("✓ %d metrics recorded", res.MetricsRecorded)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "payload file, - for stdin")
	cmd.Flags().StringVar(&signature, "signature", "", "verify this X-Webhook-Signature value first")
	return cmd
}

func webhookSignCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the X-Webhook-Signature for a payload using the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			body, err := readInput(file)
			if err != nil {
				return err
			}
			if !cfg.WebhookVerification() {
				color.Yellow("⚠ webhook_secret is the development placeholder; the server will not verify this signature")
			}
			fmt.Println(auth.Sign(body, cfg.WebhookSecret))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "payload file, - for stdin")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API (requires jwt_secret)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.JWTSecret) == "" {
				return errors.New("jwt_secret is not configured")
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			tok, err := auth.IssueToken(cfg.JWTSecret, subject, time.Now(), ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Event log"}
	lc.AddCommand(logTailCmd())
	return lc
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.Events(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Actor", "Client", "Entity", "Outcome"})
				for _, e := range events {
					outcome := e.Outcome
					if outcome != "ok" {
						outcome = color.YellowString(outcome)
					}
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ActorID, e.ClientID, strings.Trim(e.EntityKind+":"+e.EntityID, ":"), outcome})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.Outcome, "outcome", "", "outcome (ok, ignored, denied, error)")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format)
			logging.Banner(log, cfg.Warnings())
			rt, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(server.Config{
				Engine:    rt.Engine,
				Protocols: rt.Protocols,
				BasePath:  cfg.BasePath,
				Auth:      server.AuthConfig{JWTSecret: cfg.JWTSecret, Log: log},
				Log:       log.With().Str("component", "http").Logger(),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info().
				Str("addr", cfg.Addr).
				Str("base_path", cfg.BasePath).
				Str("env", cfg.Env).
				Str("db", string(rt.Dialect)).
				Msgf("serving VECTOR API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", cfg.Addr, cfg.BasePath, cfg.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default "+config.DefaultAddr+")")
	cmd.Flags().String("base-path", "", "API base path (default "+config.DefaultBasePath+")")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("base_path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the journey tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rt.Log.Info().Msg("mcp server listening on stdio")
				return vectormcp.NewServer(rt.Engine, rt.Protocols, version).Serve(ctx)
			})
		},
	}
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if cfg.DSN == "" {
		if _, err := db.EnsureWorkspace(cfg.Workspace); err != nil {
			return err
		}
	}
	rt, err := app.Open(ctx, cfg, logging.New(cfg.Log.Level, cfg.Log.Format))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
