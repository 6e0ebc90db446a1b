// Package app はコマンドの実行と依存関係の組み立てを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/ssolink/internal/config"
	"github.com/hitoshi/ssolink/internal/database"
	"github.com/hitoshi/ssolink/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// .env と環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .env と環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドがない場合はserveとして動作する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-stop:
			slog.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(stop)
	}()
	return ctx, cancel
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if res, err := c.syncPartners(ctx); err != nil {
		return err
	} else if res.Upserted > 0 {
		slog.Info("partners synchronized", slog.Int("count", res.Upserted))
	}

	router, stopLimiter, err := c.newRouter()
	if err != nil {
		return err
	}
	defer stopLimiter()

	// インメモリストアはプロセス内でしか共有できないため、クリーンアップもここで動かす
	if c.db == nil {
		go c.newCleanupJob().Start(ctx, cfg.CleanupInterval)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("app", cfg.AppIdentifier),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// CLEANUP_INTERVAL ごとに期限切れトークンとセッションを削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	// クリーンアップをメインgoroutineで実行（ブロッキング）
	c.newCleanupJob().Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// migrateAction はmigrateサブコマンドの動作。
type migrateAction struct {
	statusOnly bool
	downSteps  int // 0 の場合は適用、正の値はロールバック段数
}

// runMigrate はデータベースマイグレーションを適用、ロールバック、または状態表示する。
func runMigrate(cfg *config.Config, action migrateAction) (database.SchemaStatus, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return database.SchemaStatus{}, fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}

	mg, err := database.NewMigrator(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return database.SchemaStatus{}, err
	}
	defer mg.Close()

	logAttr := slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL))
	var st database.SchemaStatus
	switch {
	case action.statusOnly:
		st, err = mg.Status()
	case action.downSteps > 0:
		slog.Warn("rolling back database migrations", logAttr, slog.Int("steps", action.downSteps))
		st, err = mg.Down(action.downSteps)
	default:
		slog.Info("running database migrations", logAttr)
		st, err = mg.Up()
	}
	if err != nil {
		return st, fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database schema status",
		slog.Uint64("version", uint64(st.Version)),
		slog.Bool("dirty", st.Dirty),
		slog.Bool("empty", st.Empty),
	)
	return st, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はログ出力用に接続URLのパスワードを伏せる。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
