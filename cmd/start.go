package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otus-sngrep/sngcore/internal/capture"
	"github.com/otus-sngrep/sngcore/internal/config"
	"github.com/otus-sngrep/sngcore/internal/decoder"
	"github.com/otus-sngrep/sngcore/internal/otuslog"
)

var (
	device  string
	pcapIn  string
	bpf     string
	dumpOut string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start capturing",
	Long: `Start reads the config file, builds the capture pipeline (one live or
offline input, the configured outputs) and runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd)
	},
}

func init() {
	startCmd.Flags().StringVar(&device, "device", "", "network interface to capture live (mutually exclusive with --pcap)")
	startCmd.Flags().StringVar(&pcapIn, "pcap", "", "pcap/pcap.gz file to read, or - for stdin")
	startCmd.Flags().StringVar(&bpf, "bpf", "", "BPF filter applied to the input at startup")
	startCmd.Flags().StringVar(&dumpOut, "dump", "", "pcap file to mirror every captured packet into")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if device == "" && pcapIn == "" && !cfg.HEP.Listen.Enabled {
		return fmt.Errorf("one of --device, --pcap or hep.listen.enabled is required")
	}

	otuslog.Init(otuslog.Config{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.Rotation.MaxSizeMB,
		MaxBackups: cfg.Log.Rotation.MaxBackups,
		MaxAgeDays: cfg.Log.Rotation.MaxAgeDays,
		Compress:   cfg.Log.Rotation.Compress,
	})
	log := otuslog.Get()

	reassemblyTimeout, err := time.ParseDuration(cfg.Capture.ReassemblyTimeout)
	if err != nil {
		return fmt.Errorf("capture.reassembly_timeout: %w", err)
	}

	mgr := capture.NewManager(capture.ManagerConfig{
		Store: capture.ManagerStoreConfig{
			Limit:      cfg.Capture.Limit,
			Rotate:     cfg.Capture.Rotate,
			IncludeRTP: cfg.Capture.RTP,
		},
		Tree: capture.TreeConfig{
			Reassembly: decoder.ReassemblyConfig{
				Timeout:         reassemblyTimeout,
				MaxFragsPerIP:   cfg.Capture.FragmentRateLimit,
				RateLimitWindow: time.Second,
			},
			TLSServer: cfg.Capture.TLSServer,
		},
	}, log)

	if cfg.Capture.Keyfile != "" {
		if err := mgr.SetKeyfile(cfg.Capture.Keyfile); err != nil {
			return fmt.Errorf("loading capture.keyfile: %w", err)
		}
	}

	if err := addOutputs(mgr, cfg, log); err != nil {
		return err
	}

	if err := addInput(mgr, cfg, log); err != nil {
		return err
	}

	if bpf != "" {
		if err := mgr.SetBPFFilter(bpf); err != nil {
			return fmt.Errorf("setting bpf filter: %w", err)
		}
	}

	log.Info("sngcored started")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("sngcored stopping")
	mgr.Stop()
	return nil
}

func addInput(mgr *capture.Manager, cfg *config.GlobalConfig, log otuslog.Logger) error {
	switch {
	case pcapIn != "":
		if err := mgr.AddInput("primary", capture.NewOfflineInput(pcapIn)); err != nil {
			return err
		}
	case device != "":
		if err := mgr.AddInput("primary", capture.NewLiveInput(device, 0, 0, log)); err != nil {
			return err
		}
	}

	if cfg.HEP.Listen.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.HEP.Listen.Addr, cfg.HEP.Listen.Port)
		hepIn := capture.NewHEPInput(addr, cfg.HEP.Listen.Password, log)
		if err := mgr.AddInput("hep-listen", hepIn); err != nil {
			return fmt.Errorf("opening hep listener: %w", err)
		}
	}

	return nil
}

func addOutputs(mgr *capture.Manager, cfg *config.GlobalConfig, log otuslog.Logger) error {
	if dumpOut != "" {
		dump, err := capture.NewDumpOutput(dumpOut, 0, log)
		if err != nil {
			return fmt.Errorf("opening dump output: %w", err)
		}
		mgr.SetOutput("dump", dump)
	}

	if cfg.HEP.Send.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.HEP.Send.Addr, cfg.HEP.Send.Port)
		hepOut, err := capture.NewHEPOutput(capture.HEPOutputConfig{
			Servers:   []string{addr},
			Version:   cfg.HEP.Send.Version,
			AuthKey:   cfg.HEP.Send.Password,
			CaptureID: uint32(cfg.HEP.Send.ID),
		})
		if err != nil {
			return fmt.Errorf("opening hep output: %w", err)
		}
		mgr.SetOutput("hep", hepOut)
	}

	if cfg.Output.Kafka.Topic != "" {
		kafkaOut, err := capture.NewKafkaOutput(capture.KafkaOutputConfig{
			Brokers:     cfg.Output.Kafka.Brokers,
			Topic:       cfg.Output.Kafka.Topic,
			BatchSize:   cfg.Output.Kafka.BatchSize,
			Compression: cfg.Output.Kafka.Compression,
		})
		if err != nil {
			return fmt.Errorf("opening kafka output: %w", err)
		}
		mgr.SetOutput("kafka", kafkaOut)
	}

	return nil
}
