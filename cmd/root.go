// Package cmd implements the sngcored CLI using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

// configFile is the only persistent flag. The start command adds --device,
// --pcap, --bpf and --dump; every other setting lives under the YAML
// config.
var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sngcored",
	Short: "sngcored - SIP/RTP capture, dissection and mirroring daemon",
	Long: `sngcored captures network traffic, reassembles and decrypts it where a
key is configured, parses SIP and RTP, keeps an in-memory Call/Message/Stream
index, and mirrors captured SIP to HEP collectors and/or a Kafka topic.

This binary is a thin operator daemon: it wires together the capture
manager, storage and outputs described by its config file and runs until
signaled to stop. Interactive control (pause, BPF updates, alias
management, a TUI) is out of scope; operate the running process through
its config file and signals instead.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and parses flags.
// Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/sngcored/config.yml",
		"config file path")
}
