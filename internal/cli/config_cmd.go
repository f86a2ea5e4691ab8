package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"bandstack/internal/config"
	"bandstack/internal/metadata"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(cmd.OutOrStdout())
		},
	})
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.cmdVersion(cmd.OutOrStdout())
		},
	}
}

func (r *Root) configShow(w io.Writer) error {
	fmt.Fprintf(w, "Config file: %s\n\n", config.Path())
	body, err := json.MarshalIndent(r.cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", body)
	return err
}

func (r *Root) cmdVersion(w io.Writer) {
	fmt.Fprintf(w, "bandstack v%s\n", Version)
	fmt.Fprintf(w, "Built with Go %s\n", runtime.Version())
	binary := r.cfg.Extractor.ExiftoolPath
	if binary == "" {
		binary = "exiftool"
	}
	if v, err := metadata.ExifToolVersion(binary); err == nil {
		fmt.Fprintf(w, "exiftool: %s\n", v)
	} else {
		fmt.Fprintf(w, "exiftool: unavailable\n")
	}
}
