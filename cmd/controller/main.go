// Command controller is the Controller process: it drives interaction,
// slices the compute region into chunks, paces their submission to the
// Module, and assembles streamed results into a pixel bitmap. See
// SPEC_FULL.md §4.2.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/dispatch"
	"code.hybscloud.com/juliadist/display"
	"code.hybscloud.com/juliadist/export"
	"code.hybscloud.com/juliadist/internal/obs"
	"code.hybscloud.com/juliadist/keyboard"
	"code.hybscloud.com/juliadist/palette"
	"code.hybscloud.com/juliadist/transport"
	"code.hybscloud.com/juliadist/wire"
)

const (
	defaultWritePath = "/tmp/computational_module.in"
	defaultReadPath  = "/tmp/computational_module.out"
)

func main() {
	log := obs.New("controller")

	fs := flag.NewFlagSet("controller", flag.ContinueOnError)
	writePath := fs.String("write", defaultWritePath, "Controller-to-Module FIFO path")
	readPath := fs.String("read", defaultReadPath, "Module-to-Controller FIFO path")
	chunkWidth := fs.Uint("chunk-width", 64, "chunk width in pixels")
	chunkHeight := fs.Uint("chunk-height", 48, "chunk height in pixels")
	chunksInRow := fs.Uint("chunks-in-row", 10, "chunks per row")
	chunksInCol := fs.Uint("chunks-in-col", 10, "chunks per column")
	llRe := fs.Float64("ll-re", -1.6, "lower-left corner real part")
	llIm := fs.Float64("ll-im", -1.1, "lower-left corner imaginary part")
	urRe := fs.Float64("ur-re", 1.6, "upper-right corner real part")
	urIm := fs.Float64("ur-im", 1.1, "upper-right corner imaginary part")
	cRe := fs.Float64("c-re", -0.4, "recursive constant real part")
	cIm := fs.Float64("c-im", 0.6, "recursive constant imaginary part")
	n := fs.Uint("n", 100, "maximum iterations")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	geom := dispatch.DefaultGeometry()
	if *chunkWidth > 0 && *chunkWidth <= 255 {
		geom.ChunkWidth = uint8(*chunkWidth)
	}
	if *chunkHeight > 0 && *chunkHeight <= 255 {
		geom.ChunkHeight = uint8(*chunkHeight)
	}
	if *chunksInRow > 0 && *chunksInRow <= 255 {
		geom.ChunksInRow = uint8(*chunksInRow)
	}
	if *chunksInCol > 0 && *chunksInCol <= 255 {
		geom.ChunksInCol = uint8(*chunksInCol)
	}
	if *n > 0 && *n <= 255 {
		geom.N = uint8(*n)
	}
	geom.LowerLeft = complex(*llRe, *llIm)
	geom.UpperRight = complex(*urRe, *urIm)
	geom.C = complex(*cRe, *cIm)

	var quit cancel.Flag

	// spec.md §4.1: termios raw mode and SIGPIPE masking are established
	// before any I/O. SIGPIPE is masked here because writes to the FIFO go
	// through raw unix.Write, which (unlike os.File) does not get the
	// runtime's stdout/stderr SIGPIPE-to-panic conversion — an EPIPE write
	// would otherwise kill the process outright instead of surfacing as
	// ErrDisconnected. SIGINT/SIGTERM are redirected to the quit flag so
	// an abnormal exit still runs the deferred kb.Close()/tx.Close() below
	// and leaves the terminal in cooked mode.
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

	tx, err := transport.Open(*readPath, *writePath, &quit)
	if err != nil {
		log.Error().Err(err).Msg("failed to open transport")
		if haveKeyboard {
			kb.Close()
		}
		os.Exit(100)
	}
	defer tx.Close()

	disp := dispatch.New(tx, geom, palette.Default, log)
	screen := display.Noop{}

	var g errgroup.Group
	g.Go(func() error {
		runReader(tx, disp, screen, &quit, log)
		return nil
	})
	if haveKeyboard {
		g.Go(func() error {
			runKeyboard(kb, disp, screen, &quit, log)
			return nil
		})
	}

	_ = g.Wait()
}

func runReader(tx *transport.Transport, disp *dispatch.Dispatcher, screen display.Display, quit *cancel.Flag, log zerolog.Logger) {
	for !quit.IsSet() {
		msg, ok, err := tx.Receive(transport.DelayMS)
		if err != nil {
			log.Warn().Err(err).Msg("receive failed")
			continue
		}
		if !ok {
			continue
		}
		switch msg.Type {
		case wire.Startup:
			disp.OnStartup(msg.Startup)
			log.Info().Msg("module startup was successful")
		case wire.OK:
			log.Info().Msg("module responded OK")
		case wire.Error:
			log.Warn().Msg("module responded ERROR")
		case wire.ComputeDataBurst:
			disp.OnBurst(msg.ComputeDataBurst)
			redrawIfActive(disp, screen)
		case wire.Done:
			complete, err := disp.OnDone()
			if err != nil {
				log.Warn().Err(err).Msg("failed to top up pacing window")
			}
			redrawIfActive(disp, screen)
			if complete {
				log.Info().Msg("compute session complete")
			}
		case wire.Abort:
			log.Info().Msg("module has aborted computation")
			disp.OnAbort()
		case wire.Version:
			log.Info().
				Uint8("major", msg.Version.Major).
				Uint8("minor", msg.Version.Minor).
				Uint8("patch", msg.Version.Patch).
				Msg("module version")
		default:
			log.Warn().Stringer("type", msg.Type).Msg("module sent message of unexpected type")
		}
	}
}

func runKeyboard(kb *keyboard.Reader, disp *dispatch.Dispatcher, screen display.Display, quit *cancel.Flag, log zerolog.Logger) {
	for !quit.IsSet() {
		cmd, ok, err := kb.ReadCommand(keyboard.ParseControllerKey)
		if err != nil {
			log.Warn().Err(err).Msg("keyboard read failed")
			return
		}
		if !ok {
			time.Sleep(transport.DelayMS)
			continue
		}
		handleCommand(cmd, kb, disp, screen, quit, log)
	}
}

func handleCommand(cmd keyboard.Command, kb *keyboard.Reader, disp *dispatch.Dispatcher, screen display.Display, quit *cancel.Flag, log zerolog.Logger) {
	switch cmd {
	case keyboard.CmdQuit:
		log.Info().Msg("quitting controller")
		if disp.WindowState() == dispatch.WindowActive {
			screen.Close()
		}
		quit.Set()

	case keyboard.CmdGetVersion:
		log.Info().Msg("requesting module version")
		if err := disp.SendGetVersion(); err != nil {
			log.Warn().Err(err).Msg("get-version send failed")
		}

	case keyboard.CmdSetCompute:
		log.Info().Msg("setting module computation data")
		if err := disp.SendSetCompute(); err != nil {
			log.Warn().Err(err).Msg("set-compute send failed")
		}

	case keyboard.CmdRun:
		log.Info().Msg("requesting module computation")
		if err := disp.RequestCompute(); err != nil {
			log.Warn().Err(err).Msg("compute request failed")
		}

	case keyboard.CmdAbort:
		log.Info().Msg("requesting abortion")
		if err := disp.SendAbort(); err != nil {
			log.Warn().Err(err).Msg("abort send failed")
		}

	case keyboard.CmdOpenWindow:
		if err := disp.OpenWindow(); err != nil {
			log.Warn().Err(err).Msg("window already initiated")
			break
		}
		pix, w, h := disp.Bitmap()
		if err := screen.Init(w, h); err != nil {
			log.Error().Err(err).Msg("window initialization failed")
			break
		}
		screen.Redraw(pix, w, h)

	case keyboard.CmdRedraw:
		redrawIfActive(disp, screen)

	case keyboard.CmdCloseWindow:
		if err := disp.CloseWindow(); err != nil {
			log.Warn().Err(err).Msg("window is not active")
			break
		}
		screen.Close()

	case keyboard.CmdErase:
		disp.Erase()
		log.Info().Msg("cleared bitmap buffer")
		redrawIfActive(disp, screen)

	case keyboard.CmdExportPNG:
		if err := exportPNG(disp); err != nil {
			log.Warn().Err(err).Msg("png export failed")
		} else {
			log.Info().Msg("exported bitmap as PNG")
		}

	case keyboard.CmdParametersMenu:
		if err := disp.EditParams(promptParamsEditor(kb, log)); err != nil {
			log.Warn().Err(err).Msg("parameters menu failed")
			break
		}
		g := disp.Geometry()
		log.Info().
			Float64("c_re", real(g.C)).Float64("c_im", imag(g.C)).
			Float64("ll_re", real(g.LowerLeft)).Float64("ll_im", imag(g.LowerLeft)).
			Float64("ur_re", real(g.UpperRight)).Float64("ur_im", imag(g.UpperRight)).
			Uint8("n", g.N).
			Msg("parameters updated; press 's' to push them to the module")

	case keyboard.CmdZoomIn:
		disp.Zoom(0.5)
		log.Info().Msg("zoomed in")

	case keyboard.CmdZoomOut:
		disp.Zoom(2)
		log.Info().Msg("zoomed out")

	case keyboard.CmdPanUp:
		disp.Pan(dispatch.DirectionUp)
	case keyboard.CmdPanDown:
		disp.Pan(dispatch.DirectionDown)
	case keyboard.CmdPanLeft:
		disp.Pan(dispatch.DirectionLeft)
	case keyboard.CmdPanRight:
		disp.Pan(dispatch.DirectionRight)

	case keyboard.CmdHelp:
		log.Info().Msg("commands: q quit, h help, g get-version, s set-compute, 1 run, a abort, " +
			"w open window, r redraw, c close window, e erase, x export png, p parameters, +/- zoom, arrows pan")
	}
}

func redrawIfActive(disp *dispatch.Dispatcher, screen display.Display) {
	if disp.WindowState() != dispatch.WindowActive {
		return
	}
	pix, w, h := disp.Bitmap()
	screen.Redraw(pix, w, h)
}

func exportPNG(disp *dispatch.Dispatcher) error {
	pix, w, h := disp.Bitmap()
	name := fmt.Sprintf("julia-%d.png", time.Now().UnixNano())
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return export.PNG{}.Export(f, pix, w, h)
}

// promptParamsEditor returns a dispatch.ParamsEditor backed by interactive
// stdin prompts, matching control_app.c's 'p' menu. It drops kb out of
// raw mode for the duration of the prompt (raw mode has no line buffering
// or echo, so bufio's line reads would never see a terminating newline)
// and restores raw mode afterward regardless of outcome.
func promptParamsEditor(kb *keyboard.Reader, log zerolog.Logger) dispatch.ParamsEditor {
	return func(current dispatch.Geometry) (dispatch.Geometry, error) {
		if err := kb.Suspend(); err != nil {
			return current, err
		}
		defer func() {
			if err := kb.Resume(); err != nil {
				log.Warn().Err(err).Msg("failed to resume raw keyboard mode")
			}
		}()

		in := bufio.NewReader(os.Stdin)
		next := current
		fmt.Println("parameters menu — blank line keeps the current value")
		next.C = promptComplex(in, "c", current.C)
		next.LowerLeft = promptComplex(in, "lower-left corner", current.LowerLeft)
		next.UpperRight = promptComplex(in, "upper-right corner", current.UpperRight)
		next.N = promptUint8(in, "max iterations", current.N)
		return next, nil
	}
}

func promptComplex(in *bufio.Reader, label string, cur complex128) complex128 {
	fmt.Printf("%s (re,im) [%g,%g]: ", label, real(cur), imag(cur))
	line, _ := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return cur
	}
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		fmt.Println("expected \"re,im\", keeping current value")
		return cur
	}
	re, reErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	im, imErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if reErr != nil || imErr != nil {
		fmt.Println("could not parse, keeping current value")
		return cur
	}
	return complex(re, im)
}

func promptUint8(in *bufio.Reader, label string, cur uint8) uint8 {
	fmt.Printf("%s [%d]: ", label, cur)
	line, _ := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return cur
	}
	n, err := strconv.ParseUint(line, 10, 8)
	if err != nil {
		fmt.Println("could not parse, keeping current value")
		return cur
	}
	return uint8(n)
}
