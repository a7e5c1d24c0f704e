package mesh

import (
	"fmt"
	"log"

	metis "github.com/notargets/go-metis"
)

// PartitionConfig holds configuration for node-graph partitioning
type PartitionConfig struct {
	NumPartitions   int32
	ImbalanceFactor float32 // e.g., 1.05 for 5% imbalance
	UseEdgeWeights  bool
	Objective       string // "cut" or "vol"
}

// DefaultPartitionConfig returns default partitioning configuration
func DefaultPartitionConfig(nparts int32) *PartitionConfig {
	return &PartitionConfig{
		NumPartitions:   nparts,
		ImbalanceFactor: 1.05,
		UseEdgeWeights:  false,
		Objective:       "cut", // contraction traffic follows cut edges
	}
}

// MeshPartitioner assigns an owning rank to every vertex by k-way
// partitioning the node adjacency graph.
type MeshPartitioner struct {
	mesh   *Mesh
	config *PartitionConfig
}

func NewMeshPartitioner(mesh *Mesh, config *PartitionConfig) *MeshPartitioner {
	return &MeshPartitioner{mesh: mesh, config: config}
}

// Partition performs the partitioning and writes the result into NodeOwner.
func (mp *MeshPartitioner) Partition() error {
	log.Printf("Partitioning %d vertices into %d parts",
		mp.mesh.CountLiveNodes(), mp.config.NumPartitions)

	xadj, adjncy := mp.buildMetisGraph()

	opts := make([]int32, metis.NoOptions)
	err := metis.SetDefaultOptions(opts)
	if err != nil {
		return fmt.Errorf("failed to set METIS options: %w", err)
	}
	if mp.config.Objective == "vol" {
		opts[metis.OptionObjType] = metis.ObjTypeVol
	} else {
		opts[metis.OptionObjType] = metis.ObjTypeCut
	}

	ubvec := []float32{mp.config.ImbalanceFactor}

	var adjwgt []int32
	if mp.config.UseEdgeWeights {
		adjwgt = make([]int32, len(adjncy))
		for i := range adjwgt {
			adjwgt[i] = 1
		}
	}

	part, objval, err := metis.PartGraphKwayWeighted(
		xadj, adjncy, nil, adjwgt,
		mp.config.NumPartitions, nil, ubvec, opts,
	)
	if err != nil {
		return fmt.Errorf("METIS partitioning failed: %w", err)
	}

	for v := 0; v < mp.mesh.NNodes(); v++ {
		mp.mesh.NodeOwner[v] = int(part[v])
	}
	log.Printf("Partitioned with edge cut %d", objval)
	return nil
}

// buildMetisGraph converts the node adjacency to METIS CSR format
func (mp *MeshPartitioner) buildMetisGraph() (xadj, adjncy []int32) {
	nn := mp.mesh.NNodes()
	xadj = make([]int32, nn+1)
	adjncy = []int32{}
	for v := 0; v < nn; v++ {
		for _, u := range mp.mesh.NNList[v] {
			adjncy = append(adjncy, int32(u))
		}
		xadj[v+1] = int32(len(adjncy))
	}
	return
}
