package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zboralski/faultplugin/internal/emulator"
	"github.com/zboralski/faultplugin/internal/host"
	glog "github.com/zboralski/faultplugin/internal/log"
	"github.com/zboralski/faultplugin/internal/machine"
	"github.com/zboralski/faultplugin/internal/pipes"
	"github.com/zboralski/faultplugin/internal/plugin"
)

var (
	verbose     bool
	machinePath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "faultplugin",
		Short: "Inject faults into emulated ARM Cortex-M and RISC-V firmware",
		Long: `Faultplugin injects faults into firmware running on an emulated ARM Cortex-M
or RISC-V core and records what the guest did around them.

A controller writes the session description to the control pipe and the
faults to the config pipe, both as a decimal length line followed by a
protobuf message. The plugin arms each fault on its trigger address, flips,
sets or clears the masked bits once the hit counter runs out, reverts them
after their lifetime and writes one data message when the session ends.

Examples:
  faultplugin mkfifo /tmp/fp                        # create control, config, data
  faultplugin run -m board.yaml \
      control=/tmp/fp/control config=/tmp/fp/config data=/tmp/fp/data
  faultplugin report data.bin                       # print a captured result`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")

	runCmd := &cobra.Command{
		Use:   "run -m <machine.yaml> control=<path> config=<path> data=<path>",
		Short: "Run one fault session on the Unicorn host",
		Args:  cobra.ExactArgs(3),
		RunE:  runSession,
	}
	runCmd.Flags().StringVarP(&machinePath, "machine", "m", "", "machine description (YAML)")
	_ = runCmd.MarkFlagRequired("machine")

	reportCmd := &cobra.Command{
		Use:   "report <data.bin>",
		Short: "Print a captured data message",
		Args:  cobra.ExactArgs(1),
		RunE:  showReport,
	}

	mkfifoCmd := &cobra.Command{
		Use:   "mkfifo <dir>",
		Short: "Create the control, config and data pipes in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipes.InDir(args[0]).Ensure()
		},
	}

	rootCmd.AddCommand(runCmd, reportCmd, mkfifoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	glog.Init(verbose)
	logger := glog.L.WithCategory("run")
	defer logger.Sync()

	paths, err := pipes.ParseArgs(args)
	if err != nil {
		return err
	}
	m, err := machine.Load(machinePath)
	if err != nil {
		return err
	}

	emu, entry, err := emulator.FromMachine(m, glog.L)
	if err != nil {
		return fmt.Errorf("create emulator: %w", err)
	}
	defer emu.Close()
	emu.SetOutput(os.Stderr)

	// Session messages go through the host's text sink, like a plugin's.
	sink := glog.NewSink(host.LogWriter{Host: emu}, verbose)
	defer sink.Sync()

	p, err := plugin.Attach(emu, paths, sink)
	if err != nil {
		logger.Error("plugin init failed", zap.Error(err))
		return err
	}
	p.Start()

	runErr := emu.Run(entry, m.Limit)
	reason := "host stopped"
	if runErr != nil {
		reason = runErr.Error()
	}
	err = errors.Join(runErr, p.Finish(reason))
	logger.Info("session finished",
		zap.Stringer("session", p.ID),
		zap.Uint64("insns", emu.Instructions()),
		zap.Error(err))
	return err
}
