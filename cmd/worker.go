/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgillich/reservation-gateway/internal"
	"github.com/pgillich/reservation-gateway/internal/model"
	"github.com/pgillich/reservation-gateway/internal/simulator"
)

var workerViper = viper.New() //nolint:gochecknoglobals // CMD

// workerCmd represents the worker command
var workerCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra
	Use:   "worker",
	Short: "Worker simulator",
	Long:  `Consumes the priority queues and publishes simulated results, for local runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(cmd.Parent().Context())

		return RunService(cmd.Context(), cmd.Use, args, workerViper, &internal.WorkerConfig{
			Command: fmt.Sprintf("%+v", cmd.Context().Value(model.CtxKeyCmd)),
		}, internal.NewWorkerService)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	addBrokerFlags(workerCmd, "worker-0")
	workerCmd.Flags().Int("maxPartySize", simulator.DefaultMaxPartySize, "Largest party that gets a table")
	workerCmd.Flags().Duration("delay", 0, "Simulated processing time")
	bindFlags(workerCmd, workerViper)
	bindEnvs(workerViper, brokerEnvs)
	bindEnvs(workerViper, map[string]string{
		"maxPartySize": "MAX_PARTY_SIZE",
		"delay":        "WORKER_DELAY",
	})
}
