/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/executor"
	"github.com/rysavy-ondrej/RINASharp-sub000/tools"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Version of ipcpd.
var Version string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ipcpd",
		Short: "RINA IPC Process Daemon",
		Long: "ipcpd allocates flows between applications of local IPC processes and carries their data " +
			"over unix socket and WebSocket channels.",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newRunCmd(), newPingCmd(), newPingServerCmd(), newVersionCmd())
	return rootCmd
}

// daemonFlags are the options shared by all commands that run an IPC process.
type daemonFlags struct {
	config  executor.IpcpdConfig
	envFile string
}

func (f *daemonFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	flags.StringVar(&f.config.ConfigFileName, "config", "", "Configuration file (TOML or YAML)")
	flags.StringVar(&f.config.LogFile, "log-file", "", "Write logs to the specified file instead of stdout")
	flags.StringVar(&f.config.CpuProfile, "cpu-profile", "", "Enable CPU profiling (output to specified file)")
	flags.StringVar(&f.config.MemProfile, "mem-profile", "", "Enable memory profiling (output to specified file)")
	flags.StringVar(&f.config.BlockProfile, "block-profile", "", "Enable block profiling (output to specified file)")
}

// newIpcpd loads the environment file and creates the daemon.
func (f *daemonFlags) newIpcpd() (*executor.Ipcpd, error) {
	if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("unable to load environment file %s: %w", f.envFile, err)
	}
	if f.config.ConfigFileName == "" {
		f.config.ConfigFileName = os.Getenv("IPCPD_CONFIG")
	}
	f.config.Version = Version
	return executor.NewIpcpd(&f.config)
}

func newRunCmd() *cobra.Command {
	f := &daemonFlags{}
	runCmd := &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the IPC process daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				f.config.ConfigFileName = args[0]
			}
			ipcpd, err := f.newIpcpd()
			if err != nil {
				return err
			}
			return ipcpd.Run(context.Background())
		},
	}
	f.register(runCmd)
	return runCmd
}

func newPingServerCmd() *cobra.Command {
	f := &daemonFlags{}
	pingServerCmd := &cobra.Command{
		Use:   "pingserver <application>",
		Short: "Start an IPC process with an application echoing every SDU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ipcpd, err := f.newIpcpd()
			if err != nil {
				return err
			}
			if err := ipcpd.Start(); err != nil {
				return err
			}
			defer ipcpd.Stop()

			server := tools.NewPingServer(ipcpd.Engine(), defn.ParseApplicationNamingInfo(args[0]))
			if err := server.Start(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "PING SERVER %s at %s\n", args[0], ipcpd.Engine().Address())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			fmt.Fprintf(out, "\n--- %s ping server statistics ---\n", args[0])
			fmt.Fprintf(out, "%d flows served, %d SDUs echoed\n", server.Flows(), server.Received())
			return nil
		},
	}
	f.register(pingServerCmd)
	return pingServerCmd
}

func newPingCmd() *cobra.Command {
	f := &daemonFlags{}
	var interval, timeout time.Duration
	var count int
	var seq uint64
	pingCmd := &cobra.Command{
		Use:   "ping <address> <application>",
		Short: "Send SDUs to a ping server and measure the round trip time",
		Example: "  ipcpd ping pipe://./pingserver ping\n" +
			"  ipcpd ping ws://127.0.0.1:9696 ping -c 5",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := defn.ParseAddress(args[0])
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[0], err)
			}
			ipcpd, err := f.newIpcpd()
			if err != nil {
				return err
			}
			if err := ipcpd.Start(); err != nil {
				return err
			}
			defer ipcpd.Stop()

			flow := defn.NewFlowInformation(defn.MakeApplicationNamingInfo("ping"),
				defn.ParseApplicationNamingInfo(args[1]), defn.WithDestinationAddress(address))
			client := tools.NewPingClient(ipcpd.Engine(), flow)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := client.Connect(ctx, timeout); err != nil {
				return err
			}
			defer client.Close()

			if seq == 0 {
				seq = rand.Uint64N(1 << 32)
			}
			out := cmd.OutOrStdout()
			client.Run(ctx, out, seq, interval, count)
			client.Stats(out)
			return nil
		},
	}
	f.register(pingCmd)
	flags := pingCmd.Flags()
	flags.DurationVarP(&interval, "interval", "i", time.Second, "ping interval")
	flags.DurationVarP(&timeout, "timeout", "t", 4*time.Second, "timeout for each ping")
	flags.IntVarP(&count, "count", "c", 0, "number of pings to send")
	flags.Uint64VarP(&seq, "seq", "s", 0, "start sequence number")
	return pingCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "ipcpd: RINA IPC Process Daemon")
			fmt.Fprintln(out, "Version: ", Version)
			fmt.Fprintln(out, "Released under the terms of the MIT License")
		},
	}
}
