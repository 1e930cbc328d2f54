/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/flashmart/seckill"
	"github.com/flashmart/seckill/config"
	"github.com/flashmart/seckill/database"
	"github.com/flashmart/seckill/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Seckill represents the CLI application, encapsulating the root Cobra command.
type Seckill struct {
	cmd *cobra.Command
}

// seckillInstance holds the service and its configuration for the commands.
type seckillInstance struct {
	seckill *seckill.Seckill
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command runs.
func preRun(app *seckillInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// migrations run before the schema exists, so they only need the config
		if cmd.Parent() != nil && cmd.Parent().Name() == "migrate" {
			app.cnf = cnf
			return nil
		}

		newSeckill, err := setupSeckill(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.seckill = newSeckill
		app.cnf = cnf

		return nil
	}
}

// setupSeckill connects to the data source and builds the service.
func setupSeckill(cfg *config.Configuration) (*seckill.Seckill, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newSeckill, err := seckill.NewSeckill(db)
	if err != nil {
		return nil, fmt.Errorf("error creating seckill: %v", err)
	}
	if err := newSeckill.LoadScripts(context.Background()); err != nil {
		logrus.WithError(err).Warn("failed to preload admission script")
	}
	return newSeckill, nil
}

// NewCLI creates the command-line interface with the server, workers,
// migrate and config subcommands.
func NewCLI() *Seckill {
	var configFile string
	s := &seckillInstance{}

	var rootCmd = &cobra.Command{
		Use:   "seckill",
		Short: "Flash sale order admission service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./seckill.json", "Configuration file for the seckill service")

	rootCmd.PersistentPreRunE = preRun(s, &configFile)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))
	rootCmd.AddCommand(migrateCommands(s))
	rootCmd.AddCommand(configCommands(s))

	return &Seckill{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Seckill) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
