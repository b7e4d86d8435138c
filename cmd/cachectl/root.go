package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/cachemgr"
	"github.com/unkn0wn-root/cachemgr/config"
	zaplog "github.com/unkn0wn-root/cachemgr/log/zap"
)

type app struct {
	configPath string
	namespace  string
	logLevel   string
	timeout    time.Duration

	log *zap.Logger
	m   *cachemgr.EnhancedManager
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and edit a cachemgr-managed cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}
	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "path to the YAML config (env CACHEMGR_CONFIG)")
	f.StringVarP(&a.namespace, "namespace", "n", "", "namespace override")
	f.StringVar(&a.logLevel, "log-level", "warn", "debug, info, warn or error")
	f.DurationVar(&a.timeout, "timeout", 10*time.Second, "per-command timeout")

	root.AddCommand(
		a.getCmd(),
		a.setCmd(),
		a.delCmd(),
		a.keysCmd(),
		a.ttlCmd(),
		a.expireCmd(),
		a.incrCmd(),
		a.flushCmd(),
		a.statsCmd(),
		a.pingCmd(),
	)
	return root
}

// flagOrEnv returns the flag when set, else the environment, else def.
func flagOrEnv(cmd *cobra.Command, flag, env, def string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func (a *app) open(cmd *cobra.Command) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := zc.Build()
	if err != nil {
		return err
	}
	a.log = l

	cfg := &config.Config{}
	if path := flagOrEnv(cmd, "config", "CACHEMGR_CONFIG", ""); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if a.namespace != "" {
		cfg.Namespace = a.namespace
	}

	ctx, cancel := a.ctx(cmd)
	defer cancel()
	m, err := config.Build(ctx, cfg, config.Deps{Logger: zaplog.ZapLogger{L: l}})
	if err != nil {
		return err
	}
	a.m = m
	a.log.Debug("cache opened", zap.String("adapter", m.Adapter().Name("")), zap.String("namespace", m.Namespace()))
	return nil
}

func (a *app) close() error {
	var err error
	if a.m != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		err = a.m.Close(ctx)
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func (a *app) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
