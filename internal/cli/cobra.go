package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(root *Root) *cobra.Command {
	var noProgress bool

	rootCmd := &cobra.Command{
		Use:   "bandstack",
		Short: "Bandstack groups multispectral band images into captures and stacks them",
		Long: `Bandstack reads a directory of single-band images from a multi-lens camera
rig, groups them into synchronized captures, and writes one aligned,
radiometrically scaled multi-band stack per capture.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			root.showProgress = !noProgress
		},
	}
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "do not print progress to stderr")

	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newExportCmd(root))
	rootCmd.AddCommand(newIrradianceCmd(root))
	rootCmd.AddCommand(newStackCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// Execute runs the command line in args against root.
func Execute(ctx context.Context, root *Root, args []string) error {
	cmd := NewRootCmd(root)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newScanCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [input_directory]",
		Short: "Discover band images and list the captures they form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root.input(args))
		},
	}
}

func newExportCmd(root *Root) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export [input_directory]",
		Short: "Export one CSV row per capture with position, pose and irradiance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdExport(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root.input(args), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV file to write (stdout if empty)")
	return cmd
}

func newIrradianceCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "irradiance [input_directory]",
		Short: "Print the per-capture irradiance series as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdIrradiance(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root.input(args))
		},
	}
}

func newStackCmd(root *Root) *cobra.Command {
	var fl stackFlags

	cmd := &cobra.Command{
		Use:   "stack [input_directory]",
		Short: "Align and stack every capture into a multi-band file",
		Long: `Stack every capture found under the input directory. Each band is warped by
its transform from --transforms (identity when omitted) and, when --irradiance
is given, scaled by pi/E for that band. Existing stacks are kept unless
--overwrite is set. Failing captures are reported and the rest still run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output") {
				fl.output = root.cfg.Paths.StackDir
			}
			if !cmd.Flags().Changed("thumbnails") {
				fl.thumbnails = root.cfg.Paths.ThumbnailDir
			}
			if !cmd.Flags().Changed("overwrite") {
				fl.overwrite = root.cfg.Processing.Overwrite
			}
			if !cmd.Flags().Changed("sequential") {
				fl.sequential = root.cfg.Processing.Sequential
			}
			if !cmd.Flags().Changed("workers") {
				fl.workers = root.cfg.StackWorkers()
			}
			if !cmd.Flags().Changed("metrics-file") {
				fl.metricsFile = root.cfg.Paths.MetricsFile
			}
			return root.cmdStack(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root.input(args), fl)
		},
	}

	cmd.Flags().StringVar(&fl.transforms, "transforms", "", "YAML file with one 3x3 transform per band")
	cmd.Flags().StringVarP(&fl.output, "output", "o", "", "stack output directory (default from config)")
	cmd.Flags().StringVar(&fl.thumbnails, "thumbnails", "", "thumbnail directory, empty disables thumbnails")
	cmd.Flags().Float64SliceVar(&fl.irradiance, "irradiance", nil, "per-band irradiance used for radiometric scaling")
	cmd.Flags().BoolVar(&fl.overwrite, "overwrite", false, "re-render captures whose stack already exists")
	cmd.Flags().BoolVar(&fl.sequential, "sequential", false, "render captures one at a time in capture order")
	cmd.Flags().IntVarP(&fl.workers, "workers", "w", 0, "parallel stack workers (default NumCPU)")
	cmd.Flags().StringVar(&fl.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")

	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent scan and stack runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdHistory(cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
