package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/aidetect-api/internal/config"
	"github.com/Brownie44l1/aidetect-api/internal/imageio"
	"github.com/Brownie44l1/aidetect-api/internal/model"
	"github.com/Brownie44l1/aidetect-api/internal/pipeline"
	"github.com/Brownie44l1/aidetect-api/internal/score"
	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

type classifier interface {
	Classify(ctx context.Context, img *tiles.Image) (score.Verdict, error)
}

type fileResult struct {
	Path    string         `json:"path"`
	Verdict *score.Verdict `json:"verdict,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func NewCLI() *cobra.Command {
	var (
		configPath   string
		modelPath    string
		metadataPath string
	)

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if modelPath != "" {
			cfg.ModelPath = modelPath
		}
		if metadataPath != "" {
			cfg.MetadataPath = metadataPath
		}
		return cfg, nil
	}

	root := &cobra.Command{
		Use:          "aidetect",
		Short:        "Detect AI-generated images with a tiled classifier",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&modelPath, "model", "", "path to the ONNX model")
	root.PersistentFlags().StringVar(&metadataPath, "metadata", "", "path to the model metadata JSON")

	root.AddCommand(classifyCmd(loadConfig), tilesCmd())
	return root
}

func classifyCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		concurrency int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "classify FILE...",
		Short: "Classify one or more image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()

			loader := model.NewLoader(model.Options{
				ModelPath:    cfg.ModelPath,
				MetadataPath: cfg.MetadataPath,
				LibraryPath:  cfg.ORTLibrary,
				NumThreads:   cfg.NumThreads,
			})
			defer model.Shutdown()
			defer loader.Close()

			p := pipeline.New(loader, pipeline.Options{BatchSize: cfg.BatchSize, Logger: logger})
			results := classifyFiles(cmd.Context(), p, args, imageio.Limits{
				MaxSide:   cfg.MaxImageSide,
				MaxPixels: cfg.MaxPixels,
			}, concurrency)

			if asJSON {
				err = writeJSON(cmd.OutOrStdout(), results)
			} else {
				writeTable(cmd.OutOrStdout(), results)
			}
			if err != nil {
				return err
			}

			for _, r := range results {
				if r.Error != "" {
					return fmt.Errorf("%s: %s", r.Path, r.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", runtime.NumCPU(), "number of images classified at once")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per file")
	return cmd
}

// classifyFiles never fails as a whole; per-file errors are recorded.
func classifyFiles(ctx context.Context, c classifier, paths []string, limits imageio.Limits, concurrency int) []fileResult {
	results := make([]fileResult, len(paths))

	var g errgroup.Group
	g.SetLimit(max(1, concurrency))
	for i, path := range paths {
		g.Go(func() error {
			results[i] = classifyFile(ctx, c, path, limits)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func classifyFile(ctx context.Context, c classifier, path string, limits imageio.Limits) fileResult {
	res := fileResult{Path: path}

	f, err := os.Open(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer f.Close()

	decoded, err := imageio.Decode(f, limits)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	v, err := c.Classify(ctx, decoded.Image)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Verdict = &v
	return res
}

func writeTable(w io.Writer, results []fileResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Label", "Confidence", "Strong tiles", "Ratio", "Max fake"})
	table.SetAutoWrapText(false)

	for _, r := range results {
		if r.Verdict == nil {
			table.Append([]string{r.Path, "ERROR", r.Error, "", "", ""})
			continue
		}
		v := r.Verdict
		table.Append([]string{
			r.Path,
			string(v.Label),
			fmt.Sprintf("%.2f%%", v.Confidence*100),
			strconv.Itoa(v.StrongFakeTiles) + "/" + strconv.Itoa(v.TotalTiles),
			fmt.Sprintf("%.4f", v.FakeRatio),
			fmt.Sprintf("%.4f", v.MaxFakeProb),
		})
	}
	table.Render()
}

func writeJSON(w io.Writer, results []fileResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func tilesCmd() *cobra.Command {
	var limits imageio.Limits

	cmd := &cobra.Command{
		Use:   "tiles FILE",
		Short: "Show the tile grid an image is split into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			decoded, err := imageio.Decode(f, limits)
			if err != nil {
				return err
			}

			g := tiles.NewGrid(decoded.Image.Width, decoded.Image.Height)
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Source", "Padded", "Grid", "Tiles"})
			table.Append([]string{
				fmt.Sprintf("%dx%d", g.Width, g.Height),
				fmt.Sprintf("%dx%d", g.PaddedWidth(), g.PaddedHeight()),
				fmt.Sprintf("%dx%d", g.Cols, g.Rows),
				strconv.Itoa(g.Count()),
			})
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limits.MaxSide, "max-side", 0, "downscale so neither side exceeds this (0 keeps the original size)")
	cmd.Flags().IntVar(&limits.MaxPixels, "max-pixels", config.Default().MaxPixels, "refuse images with more pixels than this (0 for no limit)")
	return cmd
}
