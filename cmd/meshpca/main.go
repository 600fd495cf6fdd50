// Command meshpca reads a collection of geometries or meshes, pads their
// point sets to a common size and fits a PCA over the stacked coordinates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/meshpca/internal/config"
	"github.com/banshee-data/meshpca/internal/db"
	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/mesher"
	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/pipeline"
	"github.com/banshee-data/meshpca/internal/timeutil"
	"github.com/banshee-data/meshpca/internal/version"
)

// Options holds the parsed command line.
type Options struct {
	ConfigPath  string
	DryRun      bool
	ShowVersion bool
	Verbose     bool
	// Overrides carries only the flags that were set explicitly.
	Overrides *config.PipelineConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("meshpca: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "migrate" {
		return runMigrate(args[1:], stdout)
	}

	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.ShowVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	monitoring.SetVerbose(opts.Verbose)

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Merge(opts.Overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	p := &pipeline.Pipeline{
		Config: cfg,
		FS:     fsutil.OSFileSystem{},
		Clock:  timeutil.RealClock{},
	}

	var rec *mesher.Recorder
	if opts.DryRun {
		rec = mesher.NewRecorder()
		p.Engine = rec
	} else {
		p.Engine = mesher.NewGmshCLI(cfg.GetGmshBinary())
	}

	if path := cfg.GetDBPath(); path != "" {
		database, err := db.NewDB(path)
		if err != nil {
			return fmt.Errorf("open run database: %w", err)
		}
		defer database.Close()
		p.Store = db.NewRunStore(database)
	}

	res, runErr := p.Run(ctx)
	if rec != nil {
		for _, call := range rec.Calls() {
			fmt.Fprintf(stdout, "dry-run: %s\n", call)
		}
	}
	if runErr != nil {
		return runErr
	}

	printResult(stdout, res)
	return nil
}

func parseFlags(args []string) (*Options, error) {
	fs := flag.NewFlagSet("meshpca", flag.ContinueOnError)
	opts := &Options{Overrides: config.EmptyPipelineConfig()}

	fs.StringVar(&opts.ConfigPath, "config", "", "path to pipeline config JSON (default "+config.DefaultConfigPath+" if present)")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "record mesher commands instead of running gmsh")
	fs.BoolVar(&opts.ShowVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.Verbose, "verbose", false, "log per-entity detail")

	names := fs.String("names", "", "comma-separated entity names")
	inPath := fs.String("in", "", "input directory")
	outPath := fs.String("out", "", "output directory (default: input directory)")
	source := fs.String("source", "", "point source: geometry or mesh")
	generate := fs.Bool("generate", false, "generate meshes before reading points")
	visualize := fs.Bool("visualize", false, "open the mesher viewer after each generation")
	policy := fs.String("policy", "", "padding policy: duplicate-last or random-resample")
	seed := fs.Int64("seed", 0, "seed for random-resample")
	components := fs.Int("components", 0, "number of principal components")
	dbPath := fs.String("db", "", "SQLite database for run history")
	reportDir := fs.String("report-dir", "", "directory for scree plot, HTML report and exports")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	o := opts.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "names":
			o.Names = splitNames(*names)
		case "in":
			o.InPath = config.PtrString(*inPath)
		case "out":
			o.OutPath = config.PtrString(*outPath)
		case "source":
			o.Source = config.PtrString(*source)
		case "generate":
			o.Generate = config.PtrBool(*generate)
		case "visualize":
			o.Visualize = config.PtrBool(*visualize)
		case "policy":
			o.Padding = config.PtrString(*policy)
		case "seed":
			o.Seed = config.PtrInt64(*seed)
		case "components":
			o.Components = config.PtrInt(*components)
		case "db":
			o.DBPath = config.PtrString(*dbPath)
		case "report-dir":
			o.ReportDir = config.PtrString(*reportDir)
		}
	})
	return opts, nil
}

func splitNames(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// loadConfig reads path, or the defaults file when path is empty and the
// defaults file exists. With neither, every field takes its default.
func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		found, err := config.FindDefaultConfig()
		if err != nil {
			return config.EmptyPipelineConfig(), nil
		}
		path = found
	}
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func printResult(w io.Writer, res *pipeline.RunResult) {
	fmt.Fprintf(w, "run %s (%s, %d entities)\n", res.RunID, res.Policy, len(res.Entities))
	for i, name := range res.Names() {
		fmt.Fprintf(w, "  %-24s %6d -> %d\n", name, res.OriginalCounts[i], res.BalancedCounts[i])
	}
	fmt.Fprintf(w, "explained variance ratio: %s\n", formatFloats(res.PCA.ExplainedVarianceRatio))
	fmt.Fprintf(w, "singular values: %s\n", formatFloats(res.PCA.SingularValues))
	if res.Scores != nil {
		fmt.Fprintln(w, "scores:")
		names := res.Names()
		rows, _ := res.Scores.Dims()
		for i := 0; i < rows; i++ {
			label := fmt.Sprintf("row %d", i)
			if rows == len(names) {
				label = names[i]
			}
			fmt.Fprintf(w, "  %-24s %s\n", label, formatFloats(mat.Row(nil, i, res.Scores)))
		}
	}
	for _, path := range res.Reports {
		fmt.Fprintf(w, "wrote %s\n", path)
	}
}

func formatFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%.6g", f)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("meshpca migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "meshpca.db", "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(stdout, fs.Args(), *dbPath)
}
