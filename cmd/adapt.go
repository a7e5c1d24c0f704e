package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/gr409/pragmatic/InputParameters"
	"github.com/gr409/pragmatic/coarsen"
	"github.com/gr409/pragmatic/mesh"
	"github.com/gr409/pragmatic/smooth"
	"github.com/gr409/pragmatic/surface"
)

type AdaptModel struct {
	MeshFile   string
	ParamsFile string
	OutFile    string
	Profile    bool
}

// AdaptCmd represents the adapt command
var AdaptCmd = &cobra.Command{
	Use:   "adapt",
	Short: "Coarsen and smooth a mesh against its metric field",
	Long: `
Reads a mesh with a per-vertex metric, coarsens edges shorter than LLow,
smooths the interior vertices (3D meshes only; 2D meshes are not smoothed),
and writes the adapted mesh back out.

pragmatic adapt -m mesh.su2m -p params.yaml -o adapted.su2m`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			am  = &AdaptModel{}
			err error
		)
		if am.MeshFile, err = cmd.Flags().GetString("meshFile"); err != nil {
			panic(err)
		}
		if am.ParamsFile, err = cmd.Flags().GetString("paramsFile"); err != nil {
			panic(err)
		}
		am.OutFile, _ = cmd.Flags().GetString("outFile")
		am.Profile, _ = cmd.Flags().GetBool("profile")
		RunAdapt(am)
	},
}

func init() {
	rootCmd.AddCommand(AdaptCmd)
	AdaptCmd.Flags().StringP("meshFile", "m", "", "input mesh with metric field")
	AdaptCmd.Flags().StringP("paramsFile", "p", "", "YAML adaptation parameters")
	AdaptCmd.Flags().StringP("outFile", "o", "adapted.su2m", "output mesh file")
	AdaptCmd.Flags().Bool("profile", false, "write a CPU profile of the run")
}

func RunAdapt(am *AdaptModel) {
	if am.Profile {
		defer profile.Start().Stop()
	}

	ap := processParams(am.ParamsFile)
	ap.Print()

	m, err := mesh.ReadMesh(am.MeshFile)
	if err != nil {
		log.Fatalf("unable to read mesh: %v", err)
	}
	log.Printf("Read %d vertices, %d elements (%dD)",
		m.CountLiveNodes(), m.CountLiveElements(), m.NDims)

	if ap.Partitions > 1 {
		mp := mesh.NewMeshPartitioner(m, mesh.DefaultPartitionConfig(int32(ap.Partitions)))
		if err = mp.Partition(); err != nil {
			log.Fatalf("partitioning failed: %v", err)
		}
	}

	s := surface.NewWithTolerance(m, ap.CoplanarTol)
	log.Printf("Surface: %d facets in %d coplanar patches",
		s.CountLiveFacets(), s.CountPatches())

	c, err := coarsen.New(m, s)
	if err != nil {
		log.Fatalf("coarsen setup failed: %v", err)
	}
	c.Coarsen(ap.LLow, ap.LMax)
	log.Printf("Coarsened to %d vertices, %d elements",
		m.CountLiveNodes(), m.CountLiveElements())

	if m.NDims == 3 {
		sm, err := smooth.NewSmooth3D(m, s)
		if err != nil {
			log.Fatalf("smoother setup failed: %v", err)
		}
		sm.Smooth(ap.SmoothMethod, ap.SmoothIterations, ap.QualityTol)
	}

	if err = mesh.WriteMesh(m, am.OutFile); err != nil {
		log.Fatalf("unable to write mesh: %v", err)
	}
	fmt.Printf("Wrote %s\n", am.OutFile)
}

func processParams(path string) *InputParameters.AdaptParameters {
	ap := InputParameters.DefaultAdaptParameters()
	if path == "" {
		return ap
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("unable to read parameters: %v", err)
	}
	if err = ap.Parse(data); err != nil {
		log.Fatalf("unable to parse parameters: %v", err)
	}
	return ap
}
