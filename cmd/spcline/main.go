package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spcline/internal/analysis"
	"spcline/internal/commander"
	"spcline/internal/config"
	"spcline/internal/db"
	"spcline/internal/events"
	"spcline/internal/migrate"
	"spcline/internal/monitor"
	"spcline/internal/provider"
	"spcline/internal/repo"
	"spcline/internal/server"
	"spcline/internal/tools"
)

var rootCmd = &cobra.Command{
	Use:   "spcline",
	Short: "SPCLine CLI",
	Long: `SPCLine analyses pharmaceutical process data and turns findings into
per-role daily instructions.
- Workspace: your .spcline directory with the SQLite database; settings live in spcline.yml.
- Graph: Blocks (workshops) contain Units (equipment) and Resources; measurements attach to Unit parameters.
- Analysis: SPC control charts, capability (Cpk), Pareto, histogram and boxplot over any dimension (batch, process, workshop, person, time).
- Instructions: findings are matched to remediation actions and rendered as daily orders that flow Pending -> Read -> Done.`,
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
	viper.SetEnvPrefix("SPCLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("operator", "local-user", "acting operator identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("operator", rootCmd.PersistentFlags().Lookup("operator"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(serveCmd())
}

// stack bundles the wired application services for one CLI invocation.
type stack struct {
	Repo         repo.Repo
	Config       *config.Config
	Provider     provider.Provider
	Orchestrator analysis.Orchestrator
	Commander    commander.Commander
	Monitor      monitor.Monitor
	Events       events.Writer
	Registry     *tools.Registry
}

func withStack(ctx context.Context, fn func(context.Context, stack) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
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

	r := repo.Repo{DB: conn}
	registry := tools.Default()
	prov := provider.Provider{
		Repo:         r,
		DefaultLimit: cfg.Providers.DefaultLimit,
		MaxLimit:     cfg.Providers.MaxLimit,
	}
	engine := analysis.RuleBasedEngine{Repo: r}
	orch := analysis.Orchestrator{
		Provider: prov,
		Repo:     r,
		Workflow: analysis.Workflow{
			Registry:      registry,
			CpkCritical:   cfg.Analysis.CpkCritical,
			CpkWarning:    cfg.Analysis.CpkWarning,
			MinDataPoints: cfg.Analysis.MinDataPoints,
		},
		Decision: engine,
	}
	writer := events.Writer{DB: conn}
	s := stack{
		Repo:         r,
		Config:       cfg,
		Provider:     prov,
		Orchestrator: orch,
		Commander: commander.Commander{
			Repo:         r,
			Orchestrator: orch,
			Decision:     engine,
			Events:       writer,
			MaxPerRole:   cfg.Instructions.MaxPerRole,
		},
		Monitor:  monitor.Monitor{Repo: r},
		Events:   writer,
		Registry: registry,
	}
	return fn(ctx, s)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrIndent(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default spcline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the statistical tool catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			metas := tools.Default().List()
			if viper.GetBool("json") {
				return printJSON(metas)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Key", "Name", "Category", "Data shape"})
			for _, m := range metas {
				tw.AppendRow(table.Row{m.Key, m.Name, m.Category, m.DataShape})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func analyzeCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "analyze",
		Short: "Run dimension analysis",
		Long:  "Analyse stored measurements along one dimension and print the findings. Reports degrade from NORMAL through WARNING to CRITICAL as capability drops or points escape the control limits.",
	}
	a.AddCommand(analyzeBatchCmd())
	a.AddCommand(analyzeProcessCmd())
	a.AddCommand(analyzeWorkshopCmd())
	a.AddCommand(analyzePersonCmd())
	a.AddCommand(analyzeTimeCmd())
	return a
}

func analyzeBatchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Analyse one production batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				report, err := s.Orchestrator.AnalyzeByBatch(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max points per parameter")
	return cmd
}

func analyzeProcessCmd() *cobra.Command {
	var param string
	var window, limit int
	cmd := &cobra.Command{
		Use:   "process <node-code>",
		Short: "Analyse one process node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				report, err := s.Orchestrator.AnalyzeByProcess(ctx, args[0], param, window, limit)
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
	cmd.Flags().StringVar(&param, "param", "", "parameter code (all when empty)")
	cmd.Flags().IntVar(&window, "window", 0, "days of history (0 = all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max points per parameter")
	return cmd
}

func analyzeWorkshopCmd() *cobra.Command {
	var date string
	var limit int
	cmd := &cobra.Command{
		Use:   "workshop <block-code>",
		Short: "Analyse a workshop block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				report, err := s.Orchestrator.AnalyzeByWorkshop(ctx, args[0], date, limit)
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (all when empty)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max points per parameter")
	return cmd
}

func analyzePersonCmd() *cobra.Command {
	var from, to string
	var limit int
	cmd := &cobra.Command{
		Use:   "person <operator-id>",
		Short: "Analyse one operator's batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				var dateRange []string
				if from != "" || to != "" {
					if from == "" || to == "" {
						return fmt.Errorf("--from and --to must be given together")
					}
					dateRange = []string{from, to}
				}
				report, err := s.Orchestrator.AnalyzeByPerson(ctx, args[0], dateRange, limit)
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "range start YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "range end YYYY-MM-DD")
	cmd.Flags().IntVar(&limit, "limit", 0, "max points per parameter")
	return cmd
}

func analyzeTimeCmd() *cobra.Command {
	var granularity string
	var limit int
	cmd := &cobra.Command{
		Use:   "time <start-date> <end-date>",
		Short: "Analyse a date range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				report, err := s.Orchestrator.AnalyzeByTime(ctx, args[0], args[1], granularity, limit)
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
	cmd.Flags().StringVar(&granularity, "granularity", "day", "day or week")
	cmd.Flags().IntVar(&limit, "limit", 0, "max points per parameter")
	return cmd
}

func ordersCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "orders",
		Short: "Daily instruction management",
		Long:  "Generate daily orders from analysis findings and drive them through Pending -> Read -> Done. Regenerating for the same date never duplicates instructions.",
	}
	o.AddCommand(ordersGenerateCmd())
	o.AddCommand(ordersListCmd())
	o.AddCommand(ordersReadCmd())
	o.AddCommand(ordersDoneCmd())
	return o
}

func ordersGenerateCmd() *cobra.Command {
	var date string
	var dims []string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate daily orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				orders, err := s.Commander.GenerateDailyOrders(ctx, date, dims)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				total := 0
				for role, ins := range orders {
					fmt.Printf("%s:\n", role)
					for _, i := range ins {
						fmt.Printf("  [%s] %s (%s)\n", i.Priority, i.Content, i.ID)
						total++
					}
				}
				fmt.Printf("%d instruction(s) created for %s\n", total, date)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default today)")
	cmd.Flags().StringArrayVar(&dims, "dimension", nil, "dimension to analyse (batch, process, workshop; repeatable)")
	return cmd
}

func ordersListCmd() *cobra.Command {
	var role, date, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a role's instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				ins, err := s.Commander.InstructionsByRole(ctx, role, date, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ins)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Priority", "Status", "Content"})
				for _, i := range ins {
					tw.AppendRow(table.Row{i.ID, i.Priority, i.Status, i.Content})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "target role")
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&status, "status", "", "comma-separated status filter")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func ordersReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Acknowledge an instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				ins, err := s.Commander.MarkRead(ctx, args[0], viper.GetString("operator"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(ins)
			})
		},
	}
}

func ordersDoneCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Complete an instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				var fb *string
				if cmd.Flags().Changed("feedback") {
					fb = &feedback
				}
				ins, err := s.Commander.MarkDone(ctx, args[0], viper.GetString("operator"), fb)
				if err != nil {
					return err
				}
				return printJSONOrIndent(ins)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "completion feedback")
	return cmd
}

func monitorCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "monitor",
		Short: "Current-state views",
	}
	m.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Latest status across all units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				statuses, err := s.Monitor.LatestStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(statuses)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Node", "Name", "Status", "Cpk", "Last seen"})
				for _, st := range statuses {
					cpk := ""
					if st.Cpk != nil {
						cpk = fmt.Sprintf("%.2f", *st.Cpk)
					}
					tw.AppendRow(table.Row{st.NodeCode, st.NodeName, st.Status, cpk, st.LatestTime})
				}
				tw.Render()
				return nil
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "node <code>",
		Short: "Recent parameter trends for one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				view, err := s.Monitor.NodeMonitor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(view)
			})
		},
	})
	return m
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				if addr == "" {
					addr = s.Config.Server.Addr
				}
				secret := os.Getenv("SPCLINE_JWT_SECRET")
				if secret == "" {
					secret = s.Config.Server.JWTSecret
				}
				handler, err := server.New(server.Config{
					Repo:         s.Repo,
					Registry:     s.Registry,
					Provider:     s.Provider,
					Orchestrator: s.Orchestrator,
					Commander:    s.Commander,
					Monitor:      s.Monitor,
					Events:       s.Events,
					Auth:         server.AuthConfig{JWTSecret: secret},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving SPCLine API on http://%s/api (OpenAPI at /openapi.json)\n", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// --- helpers ---

func printReport(report analysis.Report) error {
	if viper.GetBool("json") {
		return printJSON(report)
	}
	for _, p := range analysis.Paragraphs(report) {
		fmt.Println(p)
	}
	if len(report.QuickActions) > 0 {
		fmt.Println("建议措施:", strings.Join(report.QuickActions, ", "))
	}
	return nil
}

func printJSONOrIndent(v any) error {
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
