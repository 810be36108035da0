// Package main is the CLI entry point for the chat archival engine.
// It parses flags, loads configuration, wires up logging, and arranges
// graceful shutdown on Ctrl-C/SIGTERM before handing control to App.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatarchiver/internal/app"
	"chatarchiver/internal/infra/config"
	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/infra/pr"
	"chatarchiver/internal/maxruntime"
)

// main brings the engine up in order:
//  1. bootstrap: redirect stdout/stderr through pr for the interactive CLI,
//  2. flags/env: path to .env and an optional hard runtime ceiling,
//  3. config: load and validate, surfacing any warnings,
//  4. logger: level and writer wiring, plus the optional file sink,
//  5. signals: a cancelable context for Ctrl-C/SIGTERM,
//  6. app: Init(ctx, stop) and Run(), blocking until shutdown.
func main() {
	log.SetFlags(0)
	log.SetPrefix(time.Now().Format("2006-01-02 15:04:05 "))
	if err := pr.Init(); err != nil {
		log.Fatalf("failed to assign stdout/stderr: %v", err)
	}

	envPath := flag.String("env", ".env", "path to .env file")
	maxRuntimeSecs := flag.Int("max-runtime", 0, "hard ceiling on process runtime in seconds (0 = unbounded)")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(config.Env().LogLevel)
	logger.SetLogFile(config.Env().LogFile)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	maxruntime.StartTimer(ctx, *maxRuntimeSecs, stop)

	a := app.NewApp()
	if err := a.Init(ctx, stop); err != nil {
		stop()
		log.Fatalf("app init failed: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Errorf("app close: %v", err)
		}
	}()

	if err := a.Run(); err != nil {
		stop()
		log.Fatalf("app run failed: %v", err)
	}

	stop()
	log.Println("graceful shutdown complete")
}
