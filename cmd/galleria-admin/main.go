// Package main is the entry point for galleria-admin, the offline
// maintenance tool: registry export/import and consistency scans.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/galleria/galleria/internal/config"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/scanner"
	"github.com/galleria/galleria/internal/serialization"
	"github.com/galleria/galleria/internal/server"
)

const usage = "Usage: galleria-admin <export|import|scan> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var rc int
	switch os.Args[1] {
	case "export":
		rc = runExport(os.Args[2:])
	case "import":
		rc = runImport(os.Args[2:])
	case "scan":
		rc = runScan(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", os.Args[1], usage)
		rc = 1
	}
	os.Exit(rc)
}

// loadConfig reads the config file and applies the --db override, which
// always selects the SQLite engine.
func loadConfig(path, dbPath string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Registry.Engine = "sqlite"
		cfg.Registry.SQLite.Path = dbPath
	}
	// Keep stdout clean for JSON output.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	return cfg, nil
}

func openSQLite(ctx context.Context, cfg *config.Config) (*registry.SQLiteRegistry, error) {
	if cfg.Registry.Engine != "sqlite" {
		return nil, fmt.Errorf("export and import support the sqlite engine only, got %q", cfg.Registry.Engine)
	}
	reg, err := server.OpenRegistry(ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}
	return reg.(*registry.SQLiteRegistry), nil
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "galleria.yaml", "Config file path")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	tables := fs.String("tables", "", "Comma-separated table names (default: all)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		return 1
	}

	var tableList []string
	if *tables != "" {
		for _, t := range strings.Split(*tables, ",") {
			tableList = append(tableList, strings.TrimSpace(t))
		}
	}

	ctx := context.Background()
	reg, err := openSQLite(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer reg.Close()

	data, err := serialization.Export(ctx, reg.DB(), serialization.ExportOptions{Tables: tableList})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		return 1
	}

	if *output == "-" {
		os.Stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", *output)
	return 0
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "galleria.yaml", "Config file path")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	input := fs.String("input", "-", "Input file path (- for stdin)")
	replace := fs.Bool("replace", false, "Delete existing rows before inserting")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		return 1
	}

	var data []byte
	if *input == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*input)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		return 1
	}

	ctx := context.Background()
	reg, err := openSQLite(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer reg.Close()

	result, err := serialization.Import(ctx, reg.DB(), data, serialization.ImportOptions{Replace: *replace})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
		return 1
	}

	for _, table := range serialization.AllTables {
		count, skip := result.Counts[table], result.Skipped[table]
		if count == 0 && skip == 0 {
			continue
		}
		msg := fmt.Sprintf("  %s: %d imported", table, count)
		if skip > 0 {
			msg += fmt.Sprintf(", %d skipped", skip)
		}
		fmt.Fprintln(os.Stderr, msg)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "  WARNING: %s\n", w)
	}
	return 0
}

func runScan(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "galleria.yaml", "Config file path")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	orphans := fs.String("orphans", "", "Run a cleanup with this orphan policy: report or delete")
	repair := fs.Bool("repair-missing", false, "Remove registry records whose file is missing")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		return 1
	}
	if *orphans != "" && *repair {
		fmt.Fprintln(os.Stderr, "Error: --orphans and --repair-missing are mutually exclusive")
		return 1
	}

	ctx := context.Background()
	reg, err := server.OpenRegistry(ctx, cfg.Registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer reg.Close()

	store, err := server.OpenStore(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	sc := scanner.New(reg, store, scanner.WithMaxErrors(cfg.Scan.MaxErrors))

	var rep *scanner.Report
	switch {
	case *repair:
		rep, err = sc.RepairMissing(ctx)
	case *orphans != "":
		policy, perr := scanner.ParsePolicy(*orphans)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", perr)
			return 1
		}
		rep, err = sc.Reconcile(ctx, policy)
	default:
		rep, err = sc.Report(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		return 1
	}
	return 0
}
