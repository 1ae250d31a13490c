package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	fundctlcmd "github.com/louisbranch/cyclefund/internal/cmd/fundctl"
)

func main() {
	cfg, err := fundctlcmd.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fundctlcmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
