package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/ssolink/internal/security"
	"github.com/hitoshi/ssolink/internal/worker/cleanup"
)

// NewRootCommand はssolinkのコマンドツリーを構築する。
// logw は構造化ログの出力先、コマンドの結果は cmd.OutOrStdout() に書き込む。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(logw io.Writer) *cobra.Command {
	serve := func(cmd *cobra.Command, args []string) error {
		cfg, err := Init(logw)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runServe(ctx, cfg)
	}

	root := &cobra.Command{
		Use:           "ssolink",
		Short:         "連携アプリケーション間のワンタイムトークンによるSSO",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "APIサーバーを起動する",
		RunE:  serve,
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "期限切れトークンの定期削除ワーカーを起動する",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(logw)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runWorker(ctx, cfg)
		},
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "稼働中のサーバーの /health を確認する",
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(port)
		},
	}

	root.AddCommand(serveCmd, workerCmd, newMigrateCommand(logw), healthcheckCmd,
		newCleanupCommand(logw), newPartnersCommand(logw))
	return root
}

func newMigrateCommand(logw io.Writer) *cobra.Command {
	var action migrateAction
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if action.downSteps < 0 {
				return fmt.Errorf("--down must be positive, got %d", action.downSteps)
			}
			cfg, err := Init(logw)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			st, err := runMigrate(cfg, action)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if st.Empty {
				fmt.Fprintln(out, "Schema version: none")
				return nil
			}
			fmt.Fprintf(out, "Schema version: %d", st.Version)
			if st.Dirty {
				fmt.Fprint(out, " (dirty)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&action.statusOnly, "status", false, "適用済みバージョンを表示するだけで変更しない")
	cmd.Flags().IntVar(&action.downSteps, "down", 0, "直近のマイグレーションを指定段数だけ戻す")
	cmd.MarkFlagsMutuallyExclusive("status", "down")
	return cmd
}

func newCleanupCommand(logw io.Writer) *cobra.Command {
	var dryRun bool
	var olderThan int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "期限切れのSSOトークンを削除する",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			cfg, err := Init(logw)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			ctx := cmd.Context()
			c, err := newComponents(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.newCleanupJob().Run(ctx, cleanup.Options{
				DryRun:    dryRun,
				OlderThan: time.Duration(olderThan) * time.Hour,
			})
			if err != nil {
				return err
			}
			printCleanupReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "削除せずに対象件数と先頭の数件を表示する")
	cmd.Flags().IntVar(&olderThan, "older-than", 0, "期限切れからさらにN時間経過したトークンのみを対象にする")
	return cmd
}

func printCleanupReport(w io.Writer, report *cleanup.Report) {
	if report.Count == 0 {
		fmt.Fprintln(w, "No expired tokens found.")
		return
	}
	fmt.Fprintf(w, "Found %d expired tokens.\n", report.Count)

	if report.DryRun {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tPARTNER\tEXPIRES AT")
		for _, row := range report.Preview {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Token, row.Partner, row.ExpiresAt.UTC().Format(time.RFC3339))
		}
		tw.Flush()
		if rest := report.Count - int64(len(report.Preview)); rest > 0 {
			fmt.Fprintf(w, "... and %d more\n", rest)
		}
		fmt.Fprintln(w, "Dry run: no tokens were deleted.")
		return
	}
	fmt.Fprintf(w, "Deleted %d expired tokens.\n", report.Deleted)
}

func newPartnersCommand(logw io.Writer) *cobra.Command {
	partners := &cobra.Command{
		Use:   "partners",
		Short: "連携先アプリケーションの管理",
	}

	// withComponents は設定とストアを初期化してfnを実行する
	withComponents := func(cmd *cobra.Command, fn func(ctx context.Context, c *components) error) error {
		cfg, err := Init(logw)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		c, err := newComponents(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd.Context(), c)
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "SSO_PARTNERS_FILE の内容をストアへ反映する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *components) error {
				if c.cfg.PartnersFile == "" {
					return fmt.Errorf("SSO_PARTNERS_FILE is not set")
				}
				res, err := c.syncPartners(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synchronized %d partners.\n", res.Upserted)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "登録済みの連携先を表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *components) error {
				// インメモリストアの場合はファイルの内容を読み込んでから表示する
				if c.db == nil {
					if _, err := c.syncPartners(ctx); err != nil {
						return err
					}
				}
				all, err := c.registry.ListAll(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "IDENTIFIER\tNAME\tURL\tENABLED")
				for _, p := range all {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.Identifier, p.Name, p.BaseURL, p.Enabled)
				}
				return tw.Flush()
			})
		},
	}

	var timeout time.Duration
	var concurrency int
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "有効な連携先のベースURLへの疎通を確認する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *components) error {
				if c.db == nil {
					if _, err := c.syncPartners(ctx); err != nil {
						return err
					}
				}
				enabled, err := c.registry.ListEnabled(ctx)
				if err != nil {
					return err
				}
				results, err := security.NewPartnerProber(timeout, concurrency).ProbeAll(ctx, enabled)
				if err != nil {
					return err
				}

				failed := 0
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "IDENTIFIER\tSTATUS\tLATENCY\tERROR")
				for _, r := range results {
					errText := ""
					if r.Err != nil {
						errText = r.Err.Error()
					}
					if !r.OK() {
						failed++
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Identifier, r.StatusCode, r.Latency.Round(time.Millisecond), errText)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d partners are unreachable", failed, len(results))
				}
				return nil
			})
		},
	}
	checkCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "1件あたりのタイムアウト")
	checkCmd.Flags().IntVar(&concurrency, "concurrency", 4, "同時に確認する件数")

	partners.AddCommand(syncCmd, listCmd, checkCmd)
	return partners
}
