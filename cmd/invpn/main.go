package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"invpn-go/pkg/log"
	"invpn-go/pkg/management"
	"invpn-go/pkg/mesh"
)

func main() {
	app := &cli.App{
		Name:  "invpn",
		Usage: "peer-to-peer layer-2 VPN over mutually-authenticated TLS links",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "k", Usage: "TLS private key (PEM)"},
			&cli.StringFlag{Name: "c", Usage: "TLS certificate (PEM)"},
			&cli.StringFlag{Name: "a", Usage: "CA bundle (PEM)"},
			&cli.StringFlag{Name: "s", Usage: "node database path"},
			&cli.IntFlag{Name: "p", Usage: "listen port"},
			&cli.StringFlag{Name: "t", Usage: "initial seed MAC@HOST:PORT"},
			&cli.StringFlag{Name: "api", Usage: "management API listen address"},
			&cli.BoolFlag{Name: "debug", Usage: "log per-frame drop events"},
		},
		Action: run,
	}
	if err := app.Run(filterArgs(os.Args)); err != nil {
		log.Error().Err(err).Msg("initialization failed")
		os.Exit(1)
	}
}

// filterArgs keeps only the recognized flags and their values; everything
// else on the command line is silently ignored.
func filterArgs(args []string) []string {
	valueFlags := map[string]bool{
		"-k": true, "-c": true, "-a": true, "-s": true,
		"-p": true, "-t": true, "-api": true,
	}
	boolFlags := map[string]bool{"-debug": true}

	out := []string{args[0]}
	for i := 1; i < len(args); i++ {
		switch {
		case valueFlags[args[i]]:
			if i+1 < len(args) {
				out = append(out, args[i], args[i+1])
				i++
			}
		case boolFlags[args[i]]:
			out = append(out, args[i])
		}
	}
	return out
}

func run(c *cli.Context) error {
	cfg, err := mesh.LoadConfig()
	if err != nil {
		return err
	}
	if c.IsSet("k") {
		cfg.KeyPath = c.String("k")
	}
	if c.IsSet("c") {
		cfg.CertPath = c.String("c")
	}
	if c.IsSet("a") {
		cfg.CAPath = c.String("a")
	}
	if c.IsSet("s") {
		cfg.DBPath = c.String("s")
	}
	if c.IsSet("p") {
		cfg.Port = c.Int("p")
	}
	if c.IsSet("t") {
		cfg.Seed = c.String("t")
	}
	if c.IsSet("api") {
		cfg.APIListenAddr = c.String("api")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}

	log.SetDebug(cfg.Debug)
	if err := log.Open(cfg.DBPath); err != nil {
		return err
	}
	defer log.Close()

	node, err := mesh.New(cfg)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		node.Close()
	}()

	if cfg.APIListenAddr != "" {
		api := management.New(node, cfg.APIListenAddr)
		defer api.Close()
		go func() {
			if err := api.Run(); err != nil {
				log.Info().Err(err).Msg("management api stopped")
			}
		}()
	}

	node.Run()
	log.Info().Msg("node stopped")
	return nil
}
