package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/r254650549/rural-demo/internal/api"
	"github.com/r254650549/rural-demo/internal/services/scheduler"
	"github.com/r254650549/rural-demo/internal/services/workflow"
	"github.com/spf13/cobra"
)

type extractionFlags struct {
	taskName       string
	imageType      string
	extractionType string
}

func (f *extractionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.taskName, "task", "", "Task name sent to the server")
	cmd.Flags().StringVar(&f.imageType, "image-type", workflow.ImageTypeGround, "Image type: ground or drone")
	cmd.Flags().StringVar(&f.extractionType, "extraction-type", workflow.ExtractObjects, "Extraction type: objects or features")
}

func (f *extractionFlags) params() workflow.ExtractionParams {
	return workflow.ExtractionParams{TaskName: f.taskName, ImageType: f.imageType, ExtractionType: f.extractionType}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		dir            string
		pattern        string
		ground         bool
		alwaysStitch   bool
		skipExtraction bool
		parameters     string
		asJSON         bool
		extraction     extractionFlags
	)

	cmd := &cobra.Command{
		Use:   "run [image...]",
		Short: "Upload images, stitch them and extract targets",
		Long: `Runs the image pipeline to completion: Upload -> Stitch -> Extract.

Batches of more than one image are stitched before extraction. Every completed
stage is recorded in the process history.`,
		Example: `  # Stitch and extract a field survey
  ruralctl run survey/*.jpg --ground

  # Sweep a directory, stop after stitching
  ruralctl run --dir ./survey --pattern "*.JPG" --skip-extract`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]api.File, 0, len(args))
			for _, path := range args {
				files = append(files, api.File{Path: path, Name: filepath.Base(path)})
			}
			if dir != "" {
				found, err := scheduler.CollectFiles(dir, pattern, nil)
				if err != nil {
					return err
				}
				files = append(files, found...)
			}
			if len(files) == 0 {
				return fmt.Errorf("no images given: pass files or --dir")
			}

			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			kind := workflow.KindImage
			if ground {
				kind = workflow.KindGroundImage
			}

			slog.Info("Starting image pipeline", "files", len(files), "server", env.Client().BaseURL())
			wf := env.NewSession(cmd.Context(), slogSink)
			snap, err := workflow.RunImagePipeline(cmd.Context(), wf, files, workflow.PipelineOptions{
				Kind:           kind,
				Stitch:         workflow.StitchOptions{TaskName: extraction.taskName, Parameters: parameters},
				Extraction:     extraction.params(),
				AlwaysStitch:   alwaysStitch,
				SkipExtraction: skipExtraction,
			})
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), snap, asJSON)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to take images from")
	cmd.Flags().StringVar(&pattern, "pattern", "*.jpg", "Glob used with --dir")
	cmd.Flags().BoolVar(&ground, "ground", false, "Upload as ground images")
	cmd.Flags().BoolVar(&alwaysStitch, "always-stitch", false, "Stitch even a single image")
	cmd.Flags().BoolVar(&skipExtraction, "skip-extract", false, "Stop after stitching")
	cmd.Flags().StringVar(&parameters, "params", "", "Algorithm parameters for stitching")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final snapshot as JSON")
	extraction.register(cmd)

	return cmd
}

func newVideoCmd(opts *rootOptions) *cobra.Command {
	var (
		line           string
		taskName       string
		extractionType string
		parameters     string
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "video <file>",
		Short: "Upload a video and process it against an annotated line",
		Example: `  # Count objects crossing a horizontal line
  ruralctl video gate.mp4 --line 0,360,1280,360`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coords, err := parseLine(line)
			if err != nil {
				return err
			}

			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			wf := env.NewSession(cmd.Context(), slogSink)
			file := api.File{Path: args[0], Name: filepath.Base(args[0])}
			snap, err := workflow.RunVideoPipeline(cmd.Context(), wf, file, workflow.VideoParams{
				Line:           coords,
				TaskName:       taskName,
				ExtractionType: extractionType,
				Parameters:     parameters,
			})
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), snap, asJSON)
		},
	}

	cmd.Flags().StringVar(&line, "line", "", "Annotation line as startX,startY,endX,endY (required)")
	cmd.Flags().StringVar(&taskName, "task", "", "Task name (server default when empty)")
	cmd.Flags().StringVar(&extractionType, "extraction-type", "", "Extraction type: objects or features")
	cmd.Flags().StringVar(&parameters, "params", "", "Algorithm parameters")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final snapshot as JSON")
	_ = cmd.MarkFlagRequired("line")

	return cmd
}

// parseLine reads "startX,startY,endX,endY"
func parseLine(s string) (api.AnnotationLine, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return api.AnnotationLine{}, fmt.Errorf("invalid line %q: expected startX,startY,endX,endY", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return api.AnnotationLine{}, fmt.Errorf("invalid line %q: %w", s, err)
		}
		v[i] = f
	}
	line := api.AnnotationLine{StartX: v[0], StartY: v[1], EndX: v[2], EndY: v[3]}
	if err := workflow.ValidateLine(line); err != nil {
		return api.AnnotationLine{}, err
	}
	return line, nil
}

func printSnapshot(w io.Writer, snap workflow.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Fprintf(w, "State:     %s\n", snap.State)
	if snap.Batch != nil {
		fmt.Fprintf(w, "Batch:     %s (%d %s files)\n", snap.Batch.ID, snap.Batch.FileCount, snap.Batch.Kind)
	}
	if snap.Stitch != nil && snap.Stitch.StitchedImageRef != "" {
		fmt.Fprintf(w, "Stitched:  %s\n", snap.Stitch.StitchedImageRef)
	}
	if snap.Extraction != nil {
		fmt.Fprintf(w, "Targets:   %d (%s)\n", len(snap.Extraction.Targets), snap.Extraction.Status)
		for _, t := range snap.Extraction.Targets {
			fmt.Fprintf(w, "  - %s %s", t.ID, t.Label)
			if t.BoundingBox != nil {
				fmt.Fprintf(w, " [%g,%g %gx%g]", t.BoundingBox.X, t.BoundingBox.Y, t.BoundingBox.Width, t.BoundingBox.Height)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
