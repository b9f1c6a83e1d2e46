/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgillich/reservation-gateway/internal"
	"github.com/pgillich/reservation-gateway/internal/handler"
	"github.com/pgillich/reservation-gateway/internal/model"
)

var gatewayViper = viper.New() //nolint:gochecknoglobals // CMD

// gatewayCmd represents the gateway command
var gatewayCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra
	Use:   "gateway",
	Short: "Gateway",
	Long:  `Reservation gateway HTTP server`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(cmd.Parent().Context())

		return RunService(cmd.Context(), cmd.Use, args, gatewayViper, &internal.GatewayConfig{
			Command: fmt.Sprintf("%+v", cmd.Context().Value(model.CtxKeyCmd)),
		}, internal.NewGatewayService)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().String("host", "", "Listen host")
	gatewayCmd.Flags().Int("port", 3000, "Listen port")
	addBrokerFlags(gatewayCmd, "gateway-0")
	gatewayCmd.Flags().String("cacheURL", "redis://localhost:6379/0", "Cache URL")
	gatewayCmd.Flags().Duration("resultTTL", 0, "Expiry of the stored results, 0 is no expiry")
	gatewayCmd.Flags().String("infoPath", "", "Package metadata file, linked build info if empty")
	gatewayCmd.Flags().Int("waitAttempts", handler.DefaultWaitAttempts, "Max waiting rounds for a result")
	gatewayCmd.Flags().Duration("waitDelay", handler.DefaultWaitDelay, "Max duration of a waiting round")
	gatewayCmd.Flags().Int64("maxPending", handler.DefaultMaxPending, "Max concurrent waits")
	bindFlags(gatewayCmd, gatewayViper)
	bindEnvs(gatewayViper, brokerEnvs)
	bindEnvs(gatewayViper, map[string]string{
		"host":         "HOST",
		"port":         "PORT",
		"cacheURL":     "CACHE_URL",
		"resultTTL":    "RESULT_TTL",
		"infoPath":     "PACKAGE_INFO_PATH",
		"waitAttempts": "WAIT_ATTEMPTS",
		"waitDelay":    "WAIT_DELAY",
		"maxPending":   "MAX_PENDING",
	})
}
