package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/formvox/internal/appconfig"
	"pkt.systems/formvox/internal/assistant"
	"pkt.systems/formvox/internal/connmgr"
	"pkt.systems/formvox/internal/persist"
	"pkt.systems/formvox/internal/vault"
	"pkt.systems/pslog"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var socketTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run formvox diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			serviceCfg, err := cfg.ServiceConfig()
			if err != nil {
				return err
			}

			store, err := persist.NewStoreWithOptions(serviceCfg.StateDir, nil, logger)
			if err != nil {
				return fmt.Errorf("doctor state dir: %w", err)
			}
			snapshot, ok, err := store.Load()
			if err != nil {
				logger.Warn("doctor registry unreadable", "err", err)
			} else if ok {
				logger.Info("doctor registry ok", "sessions", len(snapshot.Sessions))
			} else {
				logger.Info("doctor registry ok", "sessions", 0)
			}

			if cfg.Vault.Enabled {
				v, err := vault.NewWithLogger(serviceCfg.KeyStorePath, logger)
				if err != nil {
					return fmt.Errorf("doctor vault: %w", err)
				}
				probe := []byte("doctor probe")
				sealed, err := v.Seal(probe)
				if err != nil {
					return fmt.Errorf("doctor vault seal: %w", err)
				}
				opened, err := v.Open(sealed)
				if err != nil {
					return fmt.Errorf("doctor vault open: %w", err)
				}
				if !bytes.Equal(opened, probe) {
					return fmt.Errorf("doctor vault roundtrip mismatch")
				}
				logger.Info("doctor vault ok", "key_store", serviceCfg.KeyStorePath)
			}

			client := assistant.NewWithLogger(cfg.Backend.BaseURL, logger)
			health, err := client.Health(cmd.Context())
			if err != nil {
				logger.Warn("doctor backend unreachable", "base_url", cfg.Backend.BaseURL, "err", err)
			} else {
				logger.Info("doctor backend ok", "status", health.Status, "version", health.Version)
			}

			dialCtx, cancel := context.WithTimeout(cmd.Context(), socketTimeout)
			defer cancel()
			conn, err := connmgr.DefaultDial(dialCtx, cfg.Backend.SocketURL)
			if err != nil {
				logger.Warn("doctor socket unreachable", "socket", cfg.Backend.SocketURL, "err", err)
			} else {
				_ = conn.Close()
				logger.Info("doctor socket ok", "socket", cfg.Backend.SocketURL)
			}

			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&socketTimeout, "socket-timeout", 5*time.Second, "timeout for the socket dial check")
	return cmd
}
