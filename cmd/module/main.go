// Command module is the Compute Module process: it reads Compute requests
// off a FIFO, distributes them to a fixed worker pool, and streams results
// back over a second FIFO. See SPEC_FULL.md §4.3.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/internal/obs"
	"code.hybscloud.com/juliadist/keyboard"
	"code.hybscloud.com/juliadist/module"
	"code.hybscloud.com/juliadist/transport"
	"code.hybscloud.com/juliadist/wire"
)

const (
	defaultInPath  = "/tmp/computational_module.in"
	defaultOutPath = "/tmp/computational_module.out"

	minWorkers     = 1
	maxWorkers     = 8
	defaultWorkers = 2
)

func main() {
	log := obs.New("compute-module")

	fs := flag.NewFlagSet("module", flag.ContinueOnError)
	inPath := fs.String("in", defaultInPath, "Controller-to-Module FIFO path")
	outPath := fs.String("out", defaultOutPath, "Module-to-Controller FIFO path")
	workers := fs.Int("workers", defaultWorkers, "worker pool size (1-8)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if *workers < minWorkers || *workers > maxWorkers {
		log.Warn().Int("requested", *workers).Int("default", defaultWorkers).
			Msg("worker count out of range, falling back to default")
		*workers = defaultWorkers
	}

	var quit cancel.Flag

	// spec.md §4.1: termios raw mode and SIGPIPE masking are established
	// before any I/O — see the matching comment in cmd/controller/main.go.
	signal.Ignore(syscall.SIGPIPE)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("signal received, shutting down")
		quit.Set()
	}()

	kb, kbErr := keyboard.Stdin()
	haveKeyboard := kbErr == nil
	if kbErr != nil {
		log.Warn().Err(kbErr).Msg("raw keyboard input unavailable, continuing without it")
	} else {
		defer kb.Close()
	}

	tx, err := transport.Open(*inPath, *outPath, &quit)
	if err != nil {
		log.Error().Err(err).Msg("failed to open transport")
		if haveKeyboard {
			kb.Close()
		}
		os.Exit(100)
	}
	defer tx.Close()

	sched := module.NewScheduler(tx, *workers, &quit, log)
	reader := module.NewReader(tx, sched, &quit, log)

	hostname, _ := os.Hostname()
	startup := fmt.Sprintf("%s-module", hostname)
	if err := tx.Send(startupMessage(startup, *workers)); err != nil {
		log.Warn().Err(err).Msg("startup announcement failed")
	}

	var g errgroup.Group
	g.Go(func() error {
		reader.Run()
		return nil
	})
	g.Go(func() error {
		sched.Run()
		return nil
	})
	if haveKeyboard {
		g.Go(func() error {
			runKeyboard(kb, sched, &quit, log)
			return nil
		})
	}

	_ = g.Wait()
}

func startupMessage(identifier string, workers int) wire.Message {
	return wire.Message{
		Type: wire.Startup,
		Startup: wire.StartupPayload{
			Identifier:  identifier,
			WorkerCount: uint8(workers),
		},
	}
}

func runKeyboard(kb *keyboard.Reader, sched *module.Scheduler, quit *cancel.Flag, log zerolog.Logger) {
	for !quit.IsSet() {
		cmd, ok, err := kb.ReadCommand(keyboard.ParseModuleKey)
		if err != nil {
			log.Warn().Err(err).Msg("keyboard read failed")
			return
		}
		if !ok {
			time.Sleep(transport.DelayMS)
			continue
		}
		switch cmd {
		case keyboard.CmdQuit:
			log.Info().Msg("quitting compute module")
			quit.Set()
		case keyboard.CmdAbort:
			log.Info().Msg("user requested abortion")
			sched.Abort()
		case keyboard.CmdHelp:
			log.Info().Msg("commands: q quit, a abort, h help")
		}
	}
}
