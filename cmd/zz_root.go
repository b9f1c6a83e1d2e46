/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"emperror.dev/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/model"
)

var cfgFile string //nolint:gochecknoglobals // cobra

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra
	Use:   "reservation-gateway",
	Short: "Reservation gateway",
	Long: `Accepts reservation requests over HTTP, routes them onto the priority queue
of the guest tier and answers when the worker tier published the result.

The worker command simulates the worker tier for local runs.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context, args []string, serverRunner model.ServerRunner) {
	ctx = context.WithValue(ctx, model.CtxKeyCmd, strings.Join(append([]string{rootCmd.Use}, args...), " "))
	ctx = context.WithValue(ctx, model.CtxKeyServerRunner, serverRunner)
	rootCmd.SetArgs(args)
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		logger.GetLogger(rootCmd.Use).Error(err, "Bad", "args", args)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
}

// bindEnvs binds the keys to their env variables (key: env)
func bindEnvs(v *viper.Viper, envs map[string]string) {
	for key, env := range envs {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

// bindFlags binds the flags of cmd to v, flag names are the config keys
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		logger.GetLogger(cmd.Use).Error(err, "Unable to bind flags")
		panic(err)
	}
}

var brokerEnvs = map[string]string{ //nolint:gochecknoglobals // CMD
	"instance":          "INSTANCE",
	"brokerHost":        "BROKER_HOST",
	"brokerPort":        "BROKER_PORT",
	"brokerUser":        "BROKER_USER",
	"brokerPassword":    "BROKER_PASSWORD",
	"brokerURL":         "BROKER_URL",
	"reconnectInterval": "RECONNECT_INTERVAL",
	"jaegerURL":         "JAEGER_URL",
	"otlpURL":           "OTLP_URL",
}

func addBrokerFlags(cmd *cobra.Command, instance string) {
	cmd.Flags().String("instance", instance, "Instance name")
	cmd.Flags().String("brokerHost", "localhost", "Broker host")
	cmd.Flags().Int("brokerPort", 4222, "Broker port")
	cmd.Flags().String("brokerUser", "", "Broker user")
	cmd.Flags().String("brokerPassword", "", "Broker password")
	cmd.Flags().String("brokerURL", "", "Broker URL, overrides host, port, user and password")
	cmd.Flags().Duration("reconnectInterval", 0, "Pause between broker supervision rounds (default 5s)")
	cmd.Flags().String("jaegerURL", "", "Jaeger collector address")
	cmd.Flags().String("otlpURL", "", "OTLP HTTP collector address, overrides jaegerURL")
}

func RunService(ctx context.Context, cmdName string, args []string, v *viper.Viper, config interface{}, newService model.NewService) error {
	log := logger.GetLogger(cmdName).WithValues(logger.KeyCmd, fmt.Sprintf("%+v", ctx.Value(model.CtxKeyCmd)))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.WrapWithDetails(err, "unable to read config file", "path", cfgFile)
		}
		log.Info("Using config file", "path", v.ConfigFileUsed())
	}
	if err := v.Unmarshal(config); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	return errors.Wrap(newService(ctx, config, log).Run(args), "service run")
}
