package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/api"
	"github.com/sekai02/scull/internal/config"
	"github.com/sekai02/scull/internal/device"
	"github.com/sekai02/scull/internal/shell"
	log "github.com/sirupsen/logrus"
	ucli "gopkg.in/urfave/cli.v2"
)

const (
	Version = "0.1.0"
)

const (
	argCfgFile    = "config-file"
	argDevices    = "devices"
	argQuantum    = "quantum"
	argQSet       = "qset"
	argBackend    = "backend"
	argStorageDir = "storage-dir"
	argMaxPages   = "max-pages"
	argDebug      = "debug"
)

var (
	cfg    = config.NewDefaultConfig()
	logger = log.WithField(trace.Component, "scull")
)

func main() {
	app := &ucli.App{
		Name:    "scull",
		Version: Version,
		Usage:   "Sparse segmented in-memory byte devices",
		Commands: []*ucli.Command{
			{
				Name:   "shell",
				Usage:  "Run commands read from stdin",
				Action: runShell,
				Flags:  commonFlags(),
			},
			{
				Name:      "run",
				Usage:     "Run commands from a script file",
				ArgsUsage: "<script>",
				Action:    runScript,
				Flags:     commonFlags(),
			},
		},
	}

	for _, cmd := range app.Commands {
		sort.Sort(ucli.FlagsByName(cmd.Flags))
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func commonFlags() []ucli.Flag {
	return []ucli.Flag{
		&ucli.StringFlag{
			Name:  argCfgFile,
			Usage: "configuration file path",
		},
		&ucli.IntFlag{
			Name:  argDevices,
			Usage: "number of devices",
		},
		&ucli.IntFlag{
			Name:  argQuantum,
			Usage: "default page size in bytes",
		},
		&ucli.IntFlag{
			Name:  argQSet,
			Usage: "default number of page slots per segment",
		},
		&ucli.StringFlag{
			Name:  argBackend,
			Usage: "page store backend, memory or badger",
		},
		&ucli.StringFlag{
			Name:  argStorageDir,
			Usage: "badger scratch directory, empty keeps badger in memory",
		},
		&ucli.IntFlag{
			Name:  argMaxPages,
			Usage: "maximum number of pages across all devices, 0 means no limit",
		},
		&ucli.BoolFlag{
			Name:  argDebug,
			Usage: "enable debug logging",
		},
	}
}

func initCfg(c *ucli.Context) error {
	if c.Bool(argDebug) {
		log.SetLevel(log.DebugLevel)
	}

	effective := cfg.Clone()
	if cfgFile := c.String(argCfgFile); cfgFile != "" {
		logger.Info("Loading config from=", cfgFile)
		fileCfg, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return trace.Wrap(err)
		}
		effective.Merge(fileCfg)
	}

	applyArgsToCfg(c, effective)
	if err := effective.Check(); err != nil {
		return trace.Wrap(err)
	}
	cfg = effective
	logger.Debugf("Effective config:\n%s", cfg)
	return nil
}

func applyArgsToCfg(c *ucli.Context, cfg *config.Config) {
	args := &config.Config{
		Devices: c.Int(argDevices),
		Quantum: c.Int(argQuantum),
		QSet:    c.Int(argQSet),
		Storage: &config.Storage{
			Backend:  c.String(argBackend),
			Dir:      c.String(argStorageDir),
			MaxPages: c.Int(argMaxPages),
		},
	}
	cfg.Merge(args)
}

//===================== commands =====================

func runShell(c *ucli.Context) error {
	if err := initCfg(c); err != nil {
		return err
	}
	return run(os.Stdin, "scull> ")
}

func runScript(c *ucli.Context) error {
	if c.Args().Len() != 1 {
		return trace.BadParameter("expected exactly one script path, got %d arguments", c.Args().Len())
	}
	if err := initCfg(c); err != nil {
		return err
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer f.Close()
	return run(f, "")
}

// run brings the device set up for the lifetime of one shell session.
func run(in io.Reader, prompt string) error {
	store, err := cfg.Storage.Open()
	if err != nil {
		return trace.Wrap(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Could not close page store, err=", err)
		}
	}()

	reg := device.NewRegistry()
	set, err := device.Init(cfg.Device(), store, reg)
	if err != nil {
		return trace.Wrap(err)
	}
	defer func() {
		if err := set.Teardown(); err != nil {
			logger.Warn("Teardown failed, err=", err)
		}
	}()

	sh := shell.New(api.NewService(reg, nil), set, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel, sh)

	return sh.Run(ctx, in, prompt)
}

// handleSignals interrupts the command in flight on SIGINT and stops the
// session on SIGTERM.
func handleSignals(ctx context.Context, cancel context.CancelFunc, sh *shell.Shell) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sigChan:
			logger.Warn("Handling signal=", s)
			sh.Interrupt()
			if s == syscall.SIGTERM {
				cancel()
				return
			}
		}
	}
}
