package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/channel"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/preflight"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/process"
)

func newPrintCmdCommand(ctx *commandContext) *cobra.Command {
	var fadeIn bool

	cmd := &cobra.Command{
		Use:   "print-cmd [track]",
		Short: "Print the FFmpeg command the channel would run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.loadStore(cmd)
			if err != nil {
				return err
			}
			cfg := store.Current()

			track := ""
			if len(args) > 0 {
				track = args[0]
			}
			resolver := channel.NewDirResolver(cfg.LoopDir, cfg.LoopExt, cfg.DefaultLoop)
			loop, err := resolver.Resolve(cmd.Context(), track)
			if err != nil {
				return err
			}

			runner := process.NewFFmpegRunner()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "# FFmpeg command that would be run for this track:")
			fmt.Fprintln(out)
			fmt.Fprintln(out, runner.CommandString(cfg.Encoding, process.Params{
				LoopPath: loop,
				FadeIn:   fadeIn,
			}))
			return nil
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().BoolVar(&fadeIn, "fade-in", false, "Include the fade-in filters used by track switches")
	return cmd
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run preflight checks and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.loadStore(cmd)
			if err != nil {
				return err
			}
			result := preflight.RunAll(cmd.Context(), preflight.FromConfig(store.Current()))
			preflight.PrintResults(cmd.OutOrStdout(), result)
			if !result.Passed {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "loop-channel %s\n", version)
			return nil
		},
	}
}
