package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/app"
	"github.com/idanyas/speedpool/internal/client"
	"github.com/idanyas/speedpool/internal/config"
	"github.com/idanyas/speedpool/internal/logger"
	"github.com/idanyas/speedpool/internal/metrics"
	"github.com/idanyas/speedpool/internal/output"
	"github.com/idanyas/speedpool/internal/prober"
	"github.com/idanyas/speedpool/internal/provider"
)

var (
	version       = "DEV"
	configPath    = pflag.StringP("config", "c", "", "YAML configuration file.")
	providerName  = pflag.StringP("provider", "p", "", fmt.Sprintf("Speed test provider (%s).", strings.Join(provider.Names(), ", ")))
	choose        = pflag.Bool("choose", false, "Pick the provider interactively.")
	downloadOnly  = pflag.Bool("download", false, "Only measure download speed.")
	uploadOnly    = pflag.Bool("upload", false, "Only measure upload speed.")
	skipPing      = pflag.Bool("skip-ping", false, "Skip the latency test before measuring.")
	small         = pflag.Bool("small", false, "Never run the big final test.")
	strict        = pflag.Bool("strict", false, "Abort a stage on the first server error.")
	list          = pflag.Bool("list", false, "Ping and list the servers of the provider.")
	jsonOutput    = pflag.BoolP("json", "j", false, "Output results in JSON format.")
	metricsFile   = pflag.String("metrics-file", "", "Write Prometheus metrics to this file when done.")
	ipv4          = pflag.BoolP("ipv4", "4", false, "Use IPv4 only connection.")
	ipv6          = pflag.BoolP("ipv6", "6", false, "Use IPv6 only connection.")
	interfaceName = pflag.StringP("interface", "I", "", "Network interface or source IP address to use.")
	insecure      = pflag.Bool("insecure", false, "Skip TLS certificate verification (UNSAFE).")
	hideIP        = pflag.Bool("hide-ip", false, "Hide the IP address in output.")
	attempts      = pflag.Int("attempts", 0, "Attempts per stage before giving up.")
	quarantine    = pflag.Duration("quarantine", 0, "How long a failing server is avoided.")
	logLevel      = pflag.String("log-level", "", "Log level: debug, info, warn or error.")
)

func main() {
	pflag.Usage = func() {
		out := os.Stderr
		fmt.Fprintf(out, "Usage: %s [options...]\n\n", os.Args[0])
		fmt.Fprintln(out, "Measure network speed against a pool of public speed test servers.")
		fmt.Fprintln(out, "\nOptions:")
		pflag.PrintDefaults()
		fmt.Fprintln(out, "\nEvery option can also be set with a SPEEDPOOL_* environment variable or a config file.")
		fmt.Fprintf(out, "\nVersion: %s\n", version)
	}
	pflag.CommandLine.Init(os.Args[0], pflag.ContinueOnError)
	err := pflag.CommandLine.Parse(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "\nError parsing flags: %v\n", err)
		os.Exit(2)
	}

	if *downloadOnly && *uploadOnly {
		fmt.Fprintln(os.Stderr, "Error: --download and --upload flags cannot be used together.")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		applyFlags(&cfg)
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(cfg.LogLevel, nil)
	defer func() { _ = log.Sync() }()

	var m *metrics.Metrics
	if *metricsFile != "" {
		m = metrics.NewMetrics()
	}

	output.PrintHeader(*jsonOutput, version)

	if cfg.Network.Insecure && !*jsonOutput {
		yellow := color.New(color.FgYellow).FprintfFunc()
		yellow(os.Stderr, "Warning: Skipping TLS certificate verification (--insecure). This is potentially unsafe!\n")
	}

	c, err := client.New(client.Options{
		IPv4Only:  cfg.Network.IPv4,
		IPv6Only:  cfg.Network.IPv6,
		Interface: cfg.Network.Interface,
		Insecure:  cfg.Network.Insecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating HTTP client: %v\n", err)
		handleClientError(err, cfg.Network.Interface, cfg.Network.Insecure)
		os.Exit(1)
	}

	if *choose && !*jsonOutput {
		name, err := output.SelectProvider(provider.Names(), cfg.Provider)
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) {
				os.Exit(0)
			}
			fmt.Fprintf(os.Stderr, "Error choosing provider: %v\n", err)
			os.Exit(1)
		}
		cfg.Provider = name
	}

	svc, err := provider.New(cfg.Provider, c.HTTP, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	r := &runner{
		cfg:    cfg,
		svc:    svc,
		logger: log,
		json:   *jsonOutput,
	}
	r.prober = prober.New(c, log,
		prober.WithPingWaits(cfg.Probe.MinPingWait, cfg.Probe.PerSampleWait, cfg.Probe.SampleInterval),
		prober.WithRequestTimeout(cfg.Probe.RequestTimeout),
		prober.WithBufferSize(cfg.Probe.BufferSize),
		prober.WithMetrics(m),
		prober.WithProgress(&r.progress),
	)
	r.orchestrator = app.New(r.prober, log,
		app.WithPolicy(app.PolicyFromConfig(cfg.Staging)),
		app.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *list {
		err = r.listServers(ctx)
	} else {
		err = r.run(ctx, runOptions{
			download: !*uploadOnly,
			upload:   !*downloadOnly,
			skipPing: *skipPing,
			small:    *small,
			strict:   *strict,
			hideIP:   *hideIP,
		})
	}

	if *metricsFile != "" {
		if werr := m.WriteTextfile(*metricsFile); werr != nil {
			log.Warn("failed to write metrics file", zap.String("path", *metricsFile), zap.Error(werr))
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during speed test: %v\n", err)
		handleClientError(err, cfg.Network.Interface, cfg.Network.Insecure)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cfg *config.Config) {
	flags := pflag.CommandLine
	if flags.Changed("provider") {
		cfg.Provider = *providerName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("attempts") {
		cfg.Attempts = *attempts
	}
	if flags.Changed("quarantine") {
		cfg.Quarantine = *quarantine
	}
	if flags.Changed("ipv4") {
		cfg.Network.IPv4 = *ipv4
	}
	if flags.Changed("ipv6") {
		cfg.Network.IPv6 = *ipv6
	}
	if flags.Changed("interface") {
		cfg.Network.Interface = *interfaceName
	}
	if flags.Changed("insecure") {
		cfg.Network.Insecure = *insecure
	}
}

func handleClientError(err error, iface string, insecure bool) {
	msg := err.Error()
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, app.ErrNoHealthyServers):
		fmt.Fprintln(os.Stderr, "Hint: Every server failed its checks. Try another provider with --provider or --choose.")
	case strings.Contains(msg, "failed to find interface"):
		fmt.Fprintln(os.Stderr, "Hint: Ensure the specified interface name exists and is correct.")
	case strings.Contains(msg, "no suitable"):
		fmt.Fprintf(os.Stderr, "Hint: Check if interface %q has an IP address matching the requested family (IPv4/IPv6).\n", iface)
	case errors.As(err, &dnsErr) || strings.Contains(msg, "DNS resolution failed") || strings.Contains(msg, "all resolution methods failed"):
		fmt.Fprintln(os.Stderr, "Hint: Check network connectivity and DNS settings. Try forcing IPv4 (-4) or IPv6 (-6).")
	case strings.Contains(msg, "connection failed") || strings.Contains(msg, "dial tcp"):
		fmt.Fprintln(os.Stderr, "Hint: Check network connectivity, firewall rules, or try specifying a source IP/interface with -I.")
	case strings.Contains(msg, "certificate signed by unknown authority"):
		fmt.Fprintln(os.Stderr, "Hint: System's root CA certificates might be missing or outdated.")
		fmt.Fprintln(os.Stderr, "Hint: If you trust the network, try the --insecure flag (use with caution).")
	case !insecure && (strings.Contains(msg, "certificate") || strings.Contains(msg, "tls")):
		fmt.Fprintln(os.Stderr, "Hint: If you trust the network, try the --insecure flag (use with caution).")
	}
}
