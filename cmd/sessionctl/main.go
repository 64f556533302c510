// 运维命令：直接读取会话集合进行检索、导出与删除；与服务端共用同一套环境变量
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"geo-survey/internal/gallery"
	"geo-survey/internal/logger"
	"geo-survey/internal/migrate"
	"geo-survey/internal/store"
	"geo-survey/internal/tasks"
	"geo-survey/internal/utils"
	"geo-survey/internal/version"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagQuery   string
	flagOut     string
	flagTimeout time.Duration
)

// rootCmd：根命令，加载 .env 并初始化日志
var rootCmd = &cobra.Command{
	Use:           "sessionctl",
	Short:         "Inspect and manage survey sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("data", "env", ".env"))
		logger.Setup()
	},
}

// listCmd：按创建时间倒序列出会话及完成度
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions (newest first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		st, catalog, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		all, err := st.ListSessions(ctx)
		if err != nil {
			return err
		}
		list := gallery.Filter(all, flagQuery)
		out := cmd.OutOrStdout()
		for _, s := range list {
			stats := gallery.ComputeStats(s.Results, catalog.Len())
			fmt.Fprintf(out, "%s\t%s\t%d/%d\t%d%%\tpolygons=%d popups=%d\n",
				s.ID, s.CreatedAt.UTC().Format(time.RFC3339), stats.Completed, stats.Total,
				stats.ProgressPercent, stats.PolygonCount, stats.PopupCount)
		}
		fmt.Fprintf(out, "%d of %d sessions\n", len(list), len(all))
		return nil
	},
}

// exportCmd：导出 zip 归档，每个会话一个条目
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions to a zip archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagOut == "" {
			return fmt.Errorf("--out is required")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		all, err := st.ListSessions(ctx)
		if err != nil {
			return err
		}
		list := gallery.Filter(all, flagQuery)
		f, err := os.Create(flagOut)
		if err != nil {
			return err
		}
		if err := gallery.Export(f, list); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d sessions to %s\n", len(list), flagOut)
		return nil
	},
}

// rmCmd：按标识删除会话；不存在的标识不报错
var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete sessions and all their results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		for _, id := range args {
			if err := st.DeleteSession(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build commit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Commit)
	},
}

// openStore：按环境变量连接数据库（必要时建表），Redis 可用时一并挂载以便删除后通知画廊
func openStore() (*store.Store, *tasks.Catalog, error) {
	catalog, err := loadCatalog()
	if err != nil {
		return nil, nil, err
	}
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	if err := migrate.EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	st := store.AttachDB(db, catalog)
	if rc := utils.OpenRedisFromEnv(); rc != nil {
		st.WithRedis(rc, utils.EnvSeconds("SESSION_CACHE_TTL_S", time.Hour))
	}
	return st, catalog, nil
}

func loadCatalog() (*tasks.Catalog, error) {
	if p := os.Getenv("TASKS_PATH"); p != "" {
		return tasks.LoadFile(p)
	}
	return tasks.Default(), nil
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "database operation timeout")
	listCmd.Flags().StringVarP(&flagQuery, "query", "q", "", "case-insensitive substring of the session id")
	exportCmd.Flags().StringVarP(&flagQuery, "query", "q", "", "case-insensitive substring of the session id")
	exportCmd.Flags().StringVarP(&flagOut, "out", "o", "", "output zip path")
	rootCmd.AddCommand(listCmd, exportCmd, rmCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
