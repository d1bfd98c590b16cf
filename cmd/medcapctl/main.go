// medcapctl 运维命令：迁移、初始化数据、离线导出报表和导入用户资料
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/weiwangfds/medcap/internal/bootstrap"
	"github.com/weiwangfds/medcap/internal/database"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
	"github.com/weiwangfds/medcap/internal/service/issue"
	"github.com/weiwangfds/medcap/internal/service/report"
	"github.com/weiwangfds/medcap/internal/service/user"
	"gorm.io/gorm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "medcapctl",
		Short:         "MedCap operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importUsersCmd())
	rootCmd.AddCommand(issueIDCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp 加载配置并打开基础资源，命令结束后关闭
func withApp(fn func(app *bootstrap.App) error) error {
	cfg, err := bootstrap.Load()
	if err != nil {
		return err
	}
	app, err := bootstrap.Open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.Load()
			if err != nil {
				return err
			}
			db, err := database.Init(cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var (
		email, password, fullName         string
		departments, designations, wards []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create reserved tags, lookup entries and the administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *bootstrap.App) error {
				for kind, names := range map[string][]string{
					database.LookupDepartment:  departments,
					database.LookupDesignation: designations,
					database.LookupWard:        wards,
				} {
					if err := database.SeedLookups(app.DB, kind, names); err != nil {
						return fmt.Errorf("seed %s: %w", kind, err)
					}
				}
				if email == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Reserved tags and lookups are in place.")
					return nil
				}
				created, err := seedAdmin(app.DB, email, password, fullName)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "Administrator %s created.\n", email)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Administrator %s already exists; admin flags refreshed.\n", email)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "admin-email", "", "administrator email")
	cmd.Flags().StringVar(&password, "admin-password", "", "administrator password (required with --admin-email for a new account)")
	cmd.Flags().StringVar(&fullName, "admin-name", "Administrator", "administrator full name")
	cmd.Flags().StringSliceVar(&departments, "departments", nil, "department names to create")
	cmd.Flags().StringSliceVar(&designations, "designations", nil, "designation titles to create")
	cmd.Flags().StringSliceVar(&wards, "wards", nil, "ward names to create")
	return cmd
}

// seedAdmin 创建管理员，已存在时只确保其为已审批的启用管理员
func seedAdmin(db *gorm.DB, email, password, fullName string) (bool, error) {
	email = user.NormalizeEmail(email)
	flags := map[string]interface{}{"is_admin": true, "is_approved": true, "is_active": true, "failed_attempts": 0}

	var existing database.User
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return false, db.Model(&existing).Updates(flags).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if len(password) < 6 {
		return false, errors.New("--admin-password must be at least 6 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	admin := &database.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		IsAdmin:      true,
		IsApproved:   true,
		IsActive:     true,
	}
	return true, db.Create(admin).Error
}

func exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "export <kind>",
		Short:     "Write a spreadsheet report",
		Long:      fmt.Sprintf("Write a spreadsheet report. Kinds: %v", report.Kinds),
		Args:      cobra.ExactArgs(1),
		ValidArgs: report.Kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *bootstrap.App) error {
				svc := report.NewReportService(app.DB, app.Store, app.Config.Server.SiteURL, app.Config.Derivation.Timezone)

				tmp, err := os.CreateTemp(filepath.Dir(orDefault(output, ".")), ".medcap-export-*.xlsx")
				if err != nil {
					return err
				}
				defer os.Remove(tmp.Name())

				filename, err := svc.Export(args[0], tmp)
				if closeErr := tmp.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return err
				}
				target := orDefault(output, filename)
				if err := os.Rename(tmp.Name(), target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to the generated report name)")
	return cmd
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func importUsersCmd() *cobra.Command {
	var actorID uint
	cmd := &cobra.Command{
		Use:   "import-users <file.xlsx>",
		Short: "Apply a user spreadsheet and print the per-row results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return withApp(func(app *bootstrap.App) error {
				svc := report.NewReportService(app.DB, app.Store, app.Config.Server.SiteURL, app.Config.Derivation.Timezone)
				result, err := svc.ImportUsers(actorID, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, row := range result.Rows {
					fmt.Fprintf(out, "row %d\t%s\t%s\t%s\n", row.Row, row.Email, row.Status, row.Message)
					for _, change := range row.Changes {
						fmt.Fprintf(out, "\t%s\n", change)
					}
				}
				fmt.Fprintln(out, result.Summary)
				return nil
			})
		},
	}
	cmd.Flags().UintVar(&actorID, "actor", 0, "user ID recorded as the importer")
	return cmd
}

func issueIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issue-id",
		Short: "Print a random issue identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := issue.RandomIssueID()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
