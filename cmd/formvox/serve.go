package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/formvox"
	"pkt.systems/formvox/httpapi"
	"pkt.systems/formvox/internal/appconfig"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var noPush bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the formvox bridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			serviceCfg, err := cfg.ServiceConfig()
			if err != nil {
				return err
			}

			serverCfg := formvox.ServerConfig{
				Service: serviceCfg,
				HTTP: httpapi.Config{
					Addr:          cfg.HTTP.Addr,
					MinFormFields: cfg.Detection.MinFormFields,
					DebounceMs:    cfg.Detection.DebounceMs,
					HighlightMs:   cfg.Detection.HighlightMs,
				},
				Conn:           cfg.ConnSettings(),
				BackendBaseURL: cfg.Backend.BaseURL,
				HubHistory:     1000,
				VaultEnabled:   cfg.Vault.Enabled,
			}

			opts := []formvox.ServerOption{formvox.WithHTTP()}
			if !noPush {
				opts = append(opts, formvox.WithPush())
			}
			server, err := formvox.New(serverCfg, formvox.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			logger.Info("backend socket configured", "url", serverCfg.Conn.URL, "push", !noPush)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "disable the backend push channel")
	return cmd
}
