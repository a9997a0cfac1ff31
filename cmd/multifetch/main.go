// Command multifetch is a parallel-chunk HTTP download manager: it
// fetches one or more URLs over several concurrent ranged connections
// per download, persisting progress so interrupted downloads resume
// where they left off.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mkoru/multifetch/internal/config"
	"github.com/mkoru/multifetch/internal/engine"
	"github.com/mkoru/multifetch/internal/registry"
	"github.com/mkoru/multifetch/internal/tui"
	"github.com/mkoru/multifetch/internal/ui"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitParseError   = 2
)

// CLIConfig holds the flags parsed from argv.
type CLIConfig struct {
	OutputDir   string
	TempDir     string
	Connections int
	MaxParallel string
	Quiet       bool
	NoColor     bool
	Progress    string // bar, minimal, json
	ConfigFile  string
	InputFile   string
	UseTUI      bool
	InitConfig  bool
	ShowHelp    bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.InitConfig {
		os.Exit(initConfig())
	}

	if cliConfig.ShowHelp || (flag.NArg() == 0 && cliConfig.InputFile == "") {
		printUsage()
		if flag.NArg() == 0 && cliConfig.InputFile == "" && !cliConfig.ShowHelp {
			os.Exit(ExitParseError)
		}
		os.Exit(ExitSuccess)
	}

	cfg, err := loadConfig(cliConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		os.Exit(ExitGeneralError)
	}
	applyCLIOverrides(cfg, cliConfig)

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: starting engine: %v\n", err)
		os.Exit(ExitGeneralError)
	}
	defer eng.Stop()

	urls, err := collectURLs(cliConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitParseError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, u := range urls {
		if _, err := eng.StartDownload(ctx, u); err != nil {
			fmt.Fprintf(os.Stderr, "Error: planning %s: %v\n", u, err)
		}
	}

	eng.ResumeAll() // re-admit anything recovered from the persistent store

	if cliConfig.UseTUI {
		os.Exit(runTUI(eng))
	}
	os.Exit(runHeadless(ctx, eng, cliConfig))
}

func parseFlags() CLIConfig {
	cfg := CLIConfig{}

	flag.StringVar(&cfg.OutputDir, "P", "", "Output directory (overrides config)")
	flag.StringVar(&cfg.OutputDir, "output-dir", "", "Output directory (overrides config)")
	flag.StringVar(&cfg.TempDir, "temp-dir", "", "Temp directory for in-progress parts")
	flag.IntVar(&cfg.Connections, "n", 0, "Parallel chunks per download (overrides config)")
	flag.IntVar(&cfg.Connections, "connections", 0, "Parallel chunks per download (overrides config)")
	flag.StringVar(&cfg.MaxParallel, "max-concurrent", "", "Max simultaneous downloads (overrides config)")
	flag.BoolVar(&cfg.Quiet, "q", false, "Quiet mode (no progress output)")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "Quiet mode (no progress output)")
	flag.BoolVar(&cfg.NoColor, "no-color", false, "Disable colored output")
	flag.StringVar(&cfg.Progress, "progress", "bar", "Progress style: bar, minimal, json")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Use a specific config file")
	flag.StringVar(&cfg.InputFile, "i", "", "Read URLs from file (one per line)")
	flag.StringVar(&cfg.InputFile, "input-file", "", "Read URLs from file (one per line)")
	flag.BoolVar(&cfg.UseTUI, "tui", false, "Use the interactive TUI")
	flag.BoolVar(&cfg.InitConfig, "init-config", false, "Write a default config file and exit")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help")

	flag.Parse()
	return cfg
}

func loadConfig(cli CLIConfig) (*config.Config, error) {
	if cli.ConfigFile != "" {
		cfg := config.DefaultConfig()
		if err := cfg.LoadFile(cli.ConfigFile); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load()
}

func applyCLIOverrides(cfg *config.Config, cli CLIConfig) {
	if cli.OutputDir != "" {
		cfg.Download.DownloadFolder = cli.OutputDir
	}
	if cli.TempDir != "" {
		cfg.Download.TempFolder = cli.TempDir
	}
	if cli.Connections > 0 {
		cfg.Download.NumChunks = cli.Connections
	}
	if cli.MaxParallel != "" {
		if n := parsePositiveInt(cli.MaxParallel); n > 0 {
			cfg.Download.MaxConcurrentDownloads = n
		}
	}
	if cli.NoColor {
		cfg.Output.Colors = false
	}
	if cli.Progress != "" {
		cfg.Output.ProgressStyle = cli.Progress
	}
}

func parsePositiveInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func collectURLs(cli CLIConfig) ([]string, error) {
	var urls []string

	for _, arg := range flag.Args() {
		urls = append(urls, strings.TrimSpace(arg))
	}

	if cli.InputFile != "" {
		f, err := os.Open(cli.InputFile)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
	}

	return urls, nil
}

func initConfig() int {
	path, err := config.GetDefaultConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists at %s\n", path)
		return ExitGeneralError
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	if err := os.WriteFile(path, []byte(config.GenerateDefaultConfig()), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		return ExitGeneralError
	}

	fmt.Printf("Wrote default config to %s\n", path)
	return ExitSuccess
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: multifetch [options] <url> [url...]")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func runTUI(eng *engine.Engine) int {
	runner := tui.NewRunner(eng)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	return ExitSuccess
}

// runHeadless polls the registry and renders progress until every
// entry reaches a terminal state or the user interrupts.
func runHeadless(ctx context.Context, eng *engine.Engine, cli CLIConfig) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	bar := ui.NewProgressBar(ui.WithNoColor(cli.NoColor || cli.Quiet))

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	hadError := false

	for {
		select {
		case <-sigCh:
			eng.PauseAll()
			return ExitSuccess

		case <-ticker.C:
			snapshot := eng.Registry().Snapshot()
			if len(snapshot) == 0 {
				continue
			}

			done := true
			for _, e := range snapshot {
				switch e.Status {
				case registry.StatusComplete:
					if !cli.Quiet {
						renderTerminal(bar, cli.Progress, e)
					}
				case registry.StatusError:
					hadError = true
					if !cli.Quiet {
						renderTerminal(bar, cli.Progress, e)
					}
				default:
					done = false
					if !cli.Quiet {
						renderProgress(bar, cli.Progress, e)
					}
				}
			}

			if done {
				if hadError {
					return ExitGeneralError
				}
				return ExitSuccess
			}

		case <-ctx.Done():
			return ExitSuccess
		}
	}
}

func renderProgress(bar *ui.ProgressBar, style string, e registry.Entry) {
	switch style {
	case "minimal":
		ui.MinimalProgress(os.Stdout, e)
	case "json":
		ui.RenderJSON(os.Stdout, e)
	default:
		bar.Render(os.Stdout, e)
	}
}

func renderTerminal(bar *ui.ProgressBar, style string, e registry.Entry) {
	switch style {
	case "json":
		ui.RenderJSON(os.Stdout, e)
	default:
		if e.Status == registry.StatusComplete {
			bar.RenderComplete(os.Stdout, e, 0)
		} else {
			bar.RenderError(os.Stdout, e)
		}
	}
}
