/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>

*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pgillich/reservation-gateway/cmd"
	"github.com/pgillich/reservation-gateway/internal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd.Execute(ctx, os.Args[1:], internal.RunServer)
	cancel()
}
