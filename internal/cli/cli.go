// Package cli is the engine's interactive command console: the minimal
// concrete stand-in for the TUI collaborator spec.md names but leaves
// unimplemented. It exposes exactly the inbound command interface
// spec.md §6 fixes (run_full_backup, run_watcher, set_blacklist,
// list_dialogs) as line commands over readline. Grounded on the teacher's
// adapters/cli/cli.go: a Start/Stop-idempotent Service running its own
// read loop in a goroutine, a switch-based command dispatcher, and a
// command-descriptor table driving help text.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chatarchiver/internal/gateway"
	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/infra/pr"
	"chatarchiver/internal/store"
	"chatarchiver/internal/syncsvc"
	"chatarchiver/internal/watcher"
)

type commandDescriptor struct {
	name        string
	description string
}

var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "list_dialogs", description: "Fetch and print accessible dialogs, marking blacklisted ones"},
	{name: "run_full_backup", description: "Sync every non-blacklisted dialog to completion"},
	{name: "run_watcher", description: "Trigger one watcher cycle immediately"},
	{name: "set_blacklist <dialog_id> <true|false>", description: "Flip a dialog's blacklist flag"},
	{name: "exit", description: "Stop the CLI and terminate the engine"},
}

// Service is the interactive command console, integrated into the
// engine's lifecycle the same way the teacher integrates its own CLI:
// Start launches a background read loop, Stop tears it down.
type Service struct {
	gw      gateway.Gateway
	store   *store.Store
	sync    *syncsvc.Service
	watcher *watcher.Watcher
	stopApp context.CancelFunc

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService builds the CLI. stopApp is invoked by "exit", mirroring the
// teacher's global-shutdown wiring; a Readline error (an interrupt or EOF)
// only ends the read loop and does not call stopApp.
func NewService(gw gateway.Gateway, st *store.Store, sync *syncsvc.Service, w *watcher.Watcher, stopApp context.CancelFunc) *Service {
	return &Service{gw: gw, store: st, sync: sync, watcher: w, stopApp: stopApp}
}

// Start launches the read loop in a goroutine. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(runCtx)
		}()
	})
}

// Stop interrupts the read loop and waits for it to exit. Idempotent.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) run(ctx context.Context) {
	pr.SetPrompt("> ")
	pr.Println("chatarchiver CLI. Type 'help' for commands.")

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := pr.Rl().Readline()
		if err != nil {
			return
		}
		if s.handle(ctx, strings.TrimSpace(line)) {
			return
		}
	}
}

// handle dispatches one command line. Returns true if the CLI should exit.
func (s *Service) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "help":
		printHelp()
	case "list_dialogs":
		s.listDialogs(ctx)
	case "run_full_backup":
		s.runFullBackup(ctx)
	case "run_watcher":
		if s.watcher == nil {
			pr.ErrPrintln("watcher is not configured")
			break
		}
		s.watcher.Trigger()
		pr.Println("watcher cycle triggered")
	case "set_blacklist":
		s.setBlacklist(ctx, fields[1:])
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Printf("unknown command: %s\n", fields[0])
	}
	return false
}

func printHelp() {
	pr.Println("Available commands:")
	for _, d := range commandDescriptors {
		pr.Printf("  %-40s - %s\n", d.name, d.description)
	}
}

func (s *Service) listDialogs(ctx context.Context) {
	dialogs, err := s.gw.ListDialogs(ctx)
	if err != nil {
		pr.ErrPrintln("list_dialogs error:", err)
		return
	}
	blacklist, err := s.store.ListBlacklist(ctx)
	if err != nil {
		pr.ErrPrintln("list_dialogs: read blacklist failed:", err)
		blacklist = nil
	}
	blacklisted := make(map[int64]bool, len(blacklist))
	for _, id := range blacklist {
		blacklisted[id] = true
	}

	for _, d := range dialogs {
		if err := s.store.UpsertDialog(ctx, d); err != nil {
			logger.Warn("list_dialogs: upsert failed", zap.Error(err))
		}
		marker := ""
		if blacklisted[d.ID] {
			marker = " [blacklisted]"
		}
		pr.Printf("%-12s %-10s %s%s\n", fmt.Sprintf("%d", d.ID), d.Kind, d.Title, marker)
	}
	pr.Printf("Total dialogs: %d\n", len(dialogs))
}

func (s *Service) runFullBackup(ctx context.Context) {
	dialogs, err := s.gw.ListDialogs(ctx)
	if err != nil {
		pr.ErrPrintln("run_full_backup: list_dialogs failed:", err)
		return
	}
	blacklist, err := s.store.ListBlacklist(ctx)
	if err != nil {
		pr.ErrPrintln("run_full_backup: read blacklist failed:", err)
		blacklist = nil
	}
	blacklisted := make(map[int64]bool, len(blacklist))
	for _, id := range blacklist {
		blacklisted[id] = true
	}

	for _, d := range dialogs {
		if blacklisted[d.ID] {
			continue
		}
		if err := s.store.UpsertDialog(ctx, d); err != nil {
			pr.ErrPrintln("run_full_backup: upsert dialog failed:", err)
			continue
		}
		pr.Printf("syncing dialog %d (%s)...\n", d.ID, d.Title)
		if err := s.sync.RunOnce(ctx, d.ID); err != nil {
			pr.ErrPrintf("dialog %d failed: %v\n", d.ID, err)
			continue
		}
	}
	pr.Println("run_full_backup complete")
}

func (s *Service) setBlacklist(ctx context.Context, args []string) {
	if len(args) != 2 {
		pr.ErrPrintln("usage: set_blacklist <dialog_id> <true|false>")
		return
	}
	dialogID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		pr.ErrPrintln("invalid dialog_id:", args[0])
		return
	}
	flag, err := strconv.ParseBool(args[1])
	if err != nil {
		pr.ErrPrintln("invalid bool:", args[1])
		return
	}
	if err := s.store.SetBlacklist(ctx, dialogID, flag); err != nil {
		pr.ErrPrintln("set_blacklist error:", err)
		return
	}
	pr.Printf("dialog %d blacklisted=%t\n", dialogID, flag)
}
