/*
	Waymark
	Copyright (c) 2025 Waymark contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package cmd facilitates the command line interface (CLI)
// and implements the main().
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"

	"github.com/waymarkapp/waymark/app"
	"github.com/waymarkapp/waymark/journal"
	"go.uber.org/zap"
)

func Main() {
	flag.Parse()

	cfg, err := loadConfigFile()
	if err != nil {
		journal.Log.Fatal("failed loading config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	subCommand := "serve"
	if len(flag.Args()) > 0 {
		subCommand = flag.Arg(0)
	}

	switch subCommand {
	case "serve":
		if err := checkFlagParsing(); err != nil {
			journal.Log.Fatal("possible syntax error detected", zap.Error(err))
		}
		a, err := app.New(ctx, cfg)
		if err != nil {
			journal.Log.Fatal("failed to start application", zap.Error(err))
		}
		go func() {
			<-ctx.Done()
			a.Shutdown()
		}()
		if err := a.Serve(); err != nil {
			journal.Log.Fatal("could not start server", zap.Error(err))
		}

	case "help":
		fmt.Println(commandLineHelp)

	case "version":
		fmt.Println("waymark", version)

	default:
		journal.Log.Fatal("unrecognized subcommand", zap.String("subcommand", subCommand))
	}
}

const version = "0.1.0"

const commandLineHelp = `Usage: waymark [flags] [subcommand]

Subcommands:
  serve     Start the journal server (default)
  help      Show this help
  version   Print the version

Flags:
  -config   Path to the config file`

// checkFlagParsing returns an error if it looks like the
// program may have been invoked with the flags in the
// wrong place, e.g. `waymark serve -config config.json`
// instead of `waymark -config config.json serve`. Failing
// to catch this could result in a misconfiguration and
// undesirable results.
func checkFlagParsing() error {
	if len(os.Args) > 2 && flag.NFlag() == 0 {
		return errors.New("it looks like you intended to specify flags, but none were parsed; make sure flags go before positional arguments")
	}
	return nil
}

func loadConfigFile() (*app.Config, error) {
	cfgBytes, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if configFile == app.DefaultConfigFilePath() {
				err = nil
			}
			return new(app.Config), err
		}
		return nil, err
	}
	cfg := new(app.Config)
	err = json.Unmarshal(cfgBytes, cfg)
	return cfg, err
}

var configFile string

func init() {
	flag.StringVar(&configFile, "config", app.DefaultConfigFilePath(), "path to the config file")
}
