// Command retrace runs goals through the execution memoization layer from
// the command line: dispatch a goal, inspect store statistics, export the
// trace corpus, or run maintenance on stale traces.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/config"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/crystal"
	"github.com/XiaoConstantine/retrace-go/pkg/dispatch"
	"github.com/XiaoConstantine/retrace-go/pkg/learner"
	"github.com/XiaoConstantine/retrace-go/pkg/llms"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/XiaoConstantine/retrace-go/pkg/outcomes"
	"github.com/XiaoConstantine/retrace-go/pkg/replay"
	"github.com/XiaoConstantine/retrace-go/pkg/scorer"
	"github.com/XiaoConstantine/retrace-go/pkg/store"
	"github.com/XiaoConstantine/retrace-go/pkg/tools"
)

func main() {
	configPath := flag.String("config", "", "path to a retrace yaml config file")
	goalText := flag.String("goal", "", "goal to dispatch")
	modelID := flag.String("model", "anthropic:claude-sonnet-4-5", "model backend, provider:model")
	mcpCommand := flag.String("mcp", "", "command launching a stdio MCP server to source tools from")
	showStats := flag.Bool("stats", false, "print store statistics and exit")
	exportDir := flag.String("export", "", "export every trace document into this directory and exit")
	decayDays := flag.Int("decay-days", 0, "decay confidence of traces unused for this many days and exit")
	pruneDays := flag.Int("prune-days", 0, "prune deprecated traces unused for this many days and exit")
	flag.Parse()

	if err := run(*configPath, *goalText, *modelID, *mcpCommand, *showStats, *exportDir, *decayDays, *pruneDays); err != nil {
		fmt.Fprintf(os.Stderr, "retrace: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, goalText, modelID, mcpCommand string, showStats bool, exportDir string, decayDays, pruneDays int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	logger := logging.GetLogger()

	traces, err := store.NewStore(store.Options{
		Store:       cfg.Store,
		Confidence:  cfg.Confidence,
		Deprecation: cfg.Deprecation,
	})
	if err != nil {
		return err
	}
	defer traces.Close()

	ctx := context.Background()

	switch {
	case showStats:
		return printStats(ctx, traces)
	case exportDir != "":
		return exportTraces(ctx, traces, exportDir)
	case decayDays > 0:
		cutoff := time.Now().AddDate(0, 0, -decayDays)
		touched, err := traces.DecayStale(ctx, 0.01, cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("decayed %d stale traces\n", touched)
		return nil
	case pruneDays > 0:
		cutoff := time.Now().AddDate(0, 0, -pruneDays)
		pruned, err := traces.PruneDeprecated(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d deprecated traces\n", pruned)
		return nil
	}

	if goalText == "" {
		flag.Usage()
		return fmt.Errorf("nothing to do: pass -goal, -stats, -export, -decay-days or -prune-days")
	}

	llm, err := llms.NewLLM("", modelID)
	if err != nil {
		return err
	}

	registry := tools.NewInMemoryToolRegistry()
	if mcpCommand != "" {
		cleanup, err := attachMCPServer(registry, mcpCommand)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	gate := core.AllowAllGate()
	engine := replay.NewEngine(registry, gate, traces, llm)
	crystallizer := crystal.New(traces, cfg.Crystallize)
	lr := learner.New(llm, registry, gate, traces, cfg.Learner)
	sc := scorer.New(llm, cfg.Scorer)
	d := dispatch.New(traces, sc, engine, crystallizer, lr, registry, gate, sink, cfg.Dispatch)

	result, err := d.Dispatch(ctx, dispatch.Goal{Text: goalText})
	if err != nil {
		return err
	}

	logger.Info(ctx, "goal completed in %d steps", len(result.Steps))
	fmt.Println(result.Output)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) {
	outputs := []logging.Output{logging.NewConsoleOutput(true)}
	if cfg.Logging.FilePath != "" {
		if fileOut, err := logging.NewFileOutput(cfg.Logging.FilePath); err == nil {
			outputs = append(outputs, fileOut)
		} else {
			fmt.Fprintf(os.Stderr, "retrace: cannot open log file: %v\n", err)
		}
	}
	logging.SetLogger(logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(cfg.Logging.Level),
		Outputs:  outputs,
	}))
}

func buildSink(cfg *config.Config) (outcomes.Sink, error) {
	switch cfg.Outcome.Sink {
	case "parquet":
		return outcomes.NewParquetArchive(cfg.Outcome.ParquetPath, cfg.Outcome.BufferSize)
	case "none":
		return outcomes.NullSink{}, nil
	default:
		return outcomes.NewLogSink(nil), nil
	}
}

// attachMCPServer launches the given command as a stdio MCP server and
// registers its tools. The returned cleanup terminates the subprocess.
func attachMCPServer(registry core.ToolRegistry, command string) (func(), error) {
	parts := strings.Fields(command)
	cmd := exec.Command(parts[0], parts[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}
	cleanup := func() {
		stdin.Close()
		_ = cmd.Wait()
	}

	mcpClient, err := tools.NewMCPClientFromStdio(stdout, stdin, tools.MCPClientOptions{
		ClientName:    "retrace",
		ClientVersion: "0.1.0",
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := tools.RegisterMCPTools(registry, mcpClient); err != nil {
		cleanup()
		return nil, err
	}
	return cleanup, nil
}

func printStats(ctx context.Context, traces store.TraceStore) error {
	stats, err := traces.Stats(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func exportTraces(ctx context.Context, traces store.TraceStore, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	n := 0
	err := traces.Export(ctx, func(document []byte) error {
		n++
		name := fmt.Sprintf("trace-%04d.md", n)
		return os.WriteFile(fmt.Sprintf("%s/%s", dir, name), document, 0o644)
	})
	if err != nil {
		return err
	}
	fmt.Printf("exported %d traces to %s\n", n, dir)
	return nil
}
