package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/defects"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/notify"
	"siteline/internal/repo"
	"siteline/internal/server"
	"siteline/internal/workstatus"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline keeps a construction project's daily life in one place.
- Workspace: your .siteline directory with only the database; configs are stored in the DB and imported explicitly.
- Project: one construction project owning objects, contractors, works, and journals.
- Objects: the buildings or sites under construction.
- Works: contracted units of work on an object; their displayed phase (planned, in progress, delayed, completed) is inferred from dates and progress, never stored.
- Journal: each work's append-only timeline of messages, progress logs, and inspection events; unread counters per actor feed the badge.
- Inspections: quality checks flowing draft -> active -> completed -> on_rework; findings are numbered defects.
- Defect reports: numbered snapshots of a completed inspection's defects, optionally materialized as a document from a template.`,
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
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(objectCmd())
	rootCmd.AddCommand(contractorCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(inspectionCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(unreadCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage the project"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			if err := e.SeedRBAC(cmd.Context(), id, cfg, viper.GetString("actor-id")); err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage project config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SITELINE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SITELINE_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard: work counts by stored status and the unread badge for the current actor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountWorksByStatus(ctx, "")
				if err != nil {
					return err
				}
				works, err := e.Repo.ListWorks(ctx, repo.WorkFilters{})
				if err != nil {
					return err
				}
				unread, err := e.Repo.GetUnreadMap(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				total := notify.TotalUnread(works, unread)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project_id":   p.ID,
						"status":       p.Status,
						"work_counts":  counts,
						"total_unread": total,
						"badge":        notify.Badge(total),
					})
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Println("Works:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				if badge := notify.Badge(total); badge != "" {
					fmt.Printf("Unread: %s\n", badge)
				}
				return nil
			})
		},
	}
}

func objectCmd() *cobra.Command {
	obj := &cobra.Command{Use: "object", Short: "Manage site objects"}
	obj.AddCommand(objectCreateCmd())
	obj.AddCommand(objectListCmd())
	obj.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetObject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	})
	return obj
}

func objectCreateCmd() *cobra.Command {
	var name, address string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create site object",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateObject(ctx, e.Config.Project.ID, name, address)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "object name")
	cmd.Flags().StringVar(&address, "address", "", "address")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func objectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List site objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListObjects(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Address"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Name, o.Address})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func contractorCmd() *cobra.Command {
	c := &cobra.Command{Use: "contractor", Short: "Manage contractors"}
	c.AddCommand(contractorCreateCmd())
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List contractors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContractors(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show contractor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.Repo.GetContractor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete contractor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteContractor(ctx, args[0])
			})
		},
	})
	return c
}

func contractorCreateCmd() *cobra.Command {
	var name, contact string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create contractor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateContractor(ctx, e.Config.Project.ID, name, contact)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "contractor name")
	cmd.Flags().StringVar(&contact, "contact", "", "contact info")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workCmd() *cobra.Command {
	work := &cobra.Command{
		Use:   "work",
		Short: "Manage works",
		Long:  "Works are contracted units of work on an object. The displayed phase is inferred on every read from planned dates and reported progress.",
	}
	work.AddCommand(workCreateCmd())
	work.AddCommand(workListCmd())
	work.AddCommand(workShowCmd())
	work.AddCommand(workUpdateCmd())
	work.AddCommand(workProgressCmd())
	work.AddCommand(workMessageCmd())
	work.AddCommand(workReadCmd())
	work.AddCommand(workJournalCmd())
	return work
}

func workCreateCmd() *cobra.Command {
	var opts engine.WorkCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWork(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "work id (optional)")
	cmd.Flags().StringVar(&opts.ObjectID, "object", "", "object id")
	cmd.Flags().StringVar(&opts.ContractorID, "contractor", "", "contractor id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.PlannedStartDate, "planned-start", "", "planned start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.PlannedEndDate, "planned-end", "", "planned end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("object")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workListCmd() *cobra.Command {
	var f repo.WorkFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List works",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				works, err := e.Repo.ListWorks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(works)
				}
				now := time.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Phase", "%", "Planned end"})
				for _, w := range works {
					info := workstatus.Infer(w, now)
					end := ""
					if w.PlannedEndDate != nil {
						end = *w.PlannedEndDate
					}
					tw.AppendRow(table.Row{w.ID, w.Title, info.Message, w.CompletionPercentage, end})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ObjectID, "object", "", "object filter")
	cmd.Flags().StringVar(&f.ContractorID, "contractor", "", "contractor filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "stored status filter")
	return cmd
}

func workShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show work with inferred phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWork(ctx, args[0])
				if err != nil {
					return err
				}
				info := workstatus.Infer(w, time.Now())
				return printJSONOrTable(map[string]any{
					"work":        w,
					"status_info": info,
				})
			})
		},
	}
}

func workUpdateCmd() *cobra.Command {
	var title, contractor, status, plannedStart, plannedEnd string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkUpdateOptions{
				ID:      args[0],
				Status:  status,
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("contractor") {
				opts.ContractorID = &contractor
			}
			if cmd.Flags().Changed("planned-start") {
				opts.PlannedStartDate = &plannedStart
			}
			if cmd.Flags().Changed("planned-end") {
				opts.PlannedEndDate = &plannedEnd
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UpdateWork(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&contractor, "contractor", "", "contractor id")
	cmd.Flags().StringVar(&status, "status", "", "stored status (active, completed, pending, on_hold)")
	cmd.Flags().StringVar(&plannedStart, "planned-start", "", "planned start date")
	cmd.Flags().StringVar(&plannedEnd, "planned-end", "", "planned end date")
	return cmd
}

func workProgressCmd() *cobra.Command {
	var percent int
	var note string
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Report completion percentage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.ReportProgress(ctx, args[0], percent, note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().IntVar(&percent, "percent", 0, "completion percentage 0-100")
	cmd.Flags().StringVar(&note, "note", "", "progress note")
	_ = cmd.MarkFlagRequired("percent")
	return cmd
}

func workMessageCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "message <id>",
		Short: "Post a journal message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evt, err := e.PostMessage(ctx, args[0], text, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func workReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Clear unread counters for a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.MarkWorkRead(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func workJournalCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "journal <id>",
		Short: "Tail a work's journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListJournal(ctx, repo.JournalFilters{WorkID: args[0], Type: evtType, Limit: n})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func inspectionCmd() *cobra.Command {
	insp := &cobra.Command{
		Use:   "inspection",
		Short: "Manage inspections",
		Long:  "Inspections flow draft -> active -> completed -> on_rework. Findings are numbered defects saved as drafts until completion freezes them.",
	}
	insp.AddCommand(inspectionCreateCmd())
	insp.AddCommand(inspectionListCmd())
	insp.AddCommand(inspectionShowCmd())
	insp.AddCommand(inspectionStartCmd())
	insp.AddCommand(inspectionSaveCmd())
	insp.AddCommand(inspectionCompleteCmd())
	insp.AddCommand(inspectionReopenCmd())
	insp.AddCommand(inspectionReportCmd())
	return insp
}

func inspectionCreateCmd() *cobra.Command {
	var opts engine.InspectionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create inspection",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.CreateInspection(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "inspection id (optional)")
	cmd.Flags().StringVar(&opts.WorkID, "work", "", "work id")
	cmd.Flags().StringVar(&opts.Type, "type", "scheduled", "inspection type (scheduled, unscheduled)")
	cmd.Flags().StringVar(&opts.ScheduledDate, "date", "", "scheduled date (YYYY-MM-DD, current year)")
	_ = cmd.MarkFlagRequired("work")
	return cmd
}

func inspectionListCmd() *cobra.Command {
	var f repo.InspectionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inspections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListInspections(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "ID", "Work", "Status", "Defects"})
				for _, in := range items {
					tw.AppendRow(table.Row{in.InspectionNumber, in.ID, in.WorkID, in.Status, len(defects.Decode(in.DefectsJSON))})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkID, "work", "", "work filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	return cmd
}

func inspectionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show inspection with decoded defects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.Repo.GetInspection(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"inspection": in,
					"defects":    defects.Decode(in.DefectsJSON),
				})
			})
		},
	}
}

func inspectionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.StartInspection(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func inspectionSaveCmd() *cobra.Command {
	var defectsJSON string
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "Save draft defect list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := parseDefects(defectsJSON)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.SaveInspectionDraft(ctx, args[0], items, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&defectsJSON, "defects-json", "", `defect list JSON, e.g. [{"description":"crack","severity":"critical"}]`)
	_ = cmd.MarkFlagRequired("defects-json")
	return cmd
}

func inspectionCompleteCmd() *cobra.Command {
	var defectsJSON string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []domain.Defect
			if cmd.Flags().Changed("defects-json") {
				parsed, err := parseDefects(defectsJSON)
				if err != nil {
					return err
				}
				items = parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.CompleteInspection(ctx, args[0], items, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&defectsJSON, "defects-json", "", "final defect list JSON (omit to keep the saved draft)")
	return cmd
}

func inspectionReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Send completed inspection to rework",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.ReopenInspection(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func inspectionReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <id>",
		Short: "Generate defect report for a completed inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GenerateDefectReport(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					for _, w := range res.Warnings {
						fmt.Println("warning:", w)
					}
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Defect reports"}
	var inspectionID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List defect reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDefectReports(ctx, inspectionID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&inspectionID, "inspection", "", "inspection filter")
	rep.AddCommand(list)
	rep.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show defect report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.Repo.GetDefectReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	})
	return rep
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Document templates"}
	var id, templateType, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create document template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTemplate(ctx, id, templateType, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "template id (optional)")
	create.Flags().StringVar(&templateType, "type", "", "template type, matched by report keywords")
	create.Flags().StringVar(&name, "name", "", "display name")
	_ = create.MarkFlagRequired("type")
	_ = create.MarkFlagRequired("name")
	tpl.AddCommand(create)
	tpl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List document templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTemplates(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return tpl
}

func documentCmd() *cobra.Command {
	doc := &cobra.Command{Use: "document", Short: "Documents"}
	var workID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDocuments(ctx, workID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&workID, "work", "", "work filter")
	doc.AddCommand(list)
	doc.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	})
	var status string
	setStatus := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update document status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpdateDocumentStatus(ctx, args[0], status); err != nil {
					return err
				}
				d, err := e.Repo.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	setStatus.Flags().StringVar(&status, "status", "", "new status (draft, signed, archived)")
	_ = setStatus.MarkFlagRequired("status")
	doc.AddCommand(setStatus)
	return doc
}

func journalCmd() *cobra.Command {
	j := &cobra.Command{
		Use:   "journal",
		Short: "Project-wide journal",
		Long:  "The diary of everything that happened across works: messages, progress logs, inspection events.",
	}
	var n int
	var evtType, workID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListJournal(ctx, repo.JournalFilters{WorkID: workID, Type: evtType, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Work", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.WorkID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&workID, "work", "", "work filter")
	j.AddCommand(tail)
	return j
}

func unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show unread counters for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				works, err := e.Repo.ListWorks(ctx, repo.WorkFilters{})
				if err != nil {
					return err
				}
				counts, err := e.Repo.GetUnreadMap(ctx, actorID)
				if err != nil {
					return err
				}
				total := notify.TotalUnread(works, counts)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"counts": counts,
						"total":  total,
						"badge":  notify.Badge(total),
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Work", "Messages", "Logs", "Inspections"})
				for _, w := range works {
					c := counts[w.ID]
					if notify.Sum(c) == 0 {
						continue
					}
					tw.AppendRow(table.Row{w.Title, c.Messages, c.Logs, c.Inspections})
				}
				tw.Render()
				if badge := notify.Badge(total); badge != "" {
					fmt.Printf("Total: %s\n", badge)
				}
				return nil
			})
		},
	}
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "RBAC management"}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				actorID := viper.GetString("actor-id")
				roles, err := e.Auth.ActorRoles(ctx, tx, e.Config.Project.ID, actorID)
				if err != nil {
					return err
				}
				perms, err := e.Auth.ActorPermissions(ctx, tx, e.Config.Project.ID, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor_id":    actorID,
					"roles":       roles,
					"permissions": perms,
				})
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.EnsureActor(ctx, tx, target, now); err != nil {
					return err
				}
				if err := e.Repo.AssignRole(ctx, tx, e.Config.Project.ID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.RevokeRole(ctx, tx, e.Config.Project.ID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP API"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create API key (plaintext printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			plaintext := "slk_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:      uuid.New().String(),
				ActorID: actor,
				Name:    name,
				KeyHash: repo.HashAPIKey(plaintext),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": plaintext})
				}
				fmt.Printf("API key created for %s\n%s\n", key.ActorID, plaintext)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "key name")
	cmd.AddCommand(create)

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "actor filter")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SITELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SITELINE_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func parseDefects(raw string) ([]domain.Defect, error) {
	var items []domain.Defect
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("invalid defects JSON: %w", err)
	}
	return items, nil
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
