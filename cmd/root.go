package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pragmatic",
	Short: "Anisotropic mesh adaptation engine",
	Long: `
Adapts unstructured simplicial meshes to a per-vertex Riemannian metric
field: short edges are coarsened away and interior vertices are smoothed so
that edge lengths approach unity in metric space while the geometric
boundary is preserved.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
