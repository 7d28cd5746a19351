package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"minicraft/accounts"
	"minicraft/config"
	"minicraft/server"
)

var version = "dev"

// minicraft 入口：Classic 协议 TCP 服务 + HTTP（管理、指标、WebSocket）
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "minicraft",
		Short:         "Classic protocol block game server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "minicraft", version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath, addr, httpAddr, logPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if logPath != "" {
				cfg.LogPath = logPath
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "classic protocol listen address, e.g. :25565")
	cmd.Flags().StringVar(&httpAddr, "http", "", "admin/metrics/websocket listen address, e.g. :8080")
	cmd.Flags().StringVar(&logPath, "log", "", "log file path")
	return cmd
}

func serve(cfg config.Config) error {
	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogPath, cfg.CrashLogPath); err != nil {
		return err
	}
	defer server.SyncLogger()

	store, err := accounts.Open(cfg.DBPath, cfg.DefaultRank)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.AdminRouter()}
	go func() {
		server.Log.Infof("admin/metrics/websocket listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Errorf("http listen: %v", err)
			stop()
		}
	}()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe(ctx, cfg.Addr)
	}()

	// 优雅退出（Ctrl+C）
	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			server.Log.Errorf("classic listener: %v", err)
		}
	}
	server.Log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}
