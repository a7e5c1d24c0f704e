package InputParameters

import (
	"fmt"

	"github.com/ghodss/yaml"
)

// Parameters obtained from the YAML input file
type AdaptParameters struct {
	Title            string  `yaml:"Title"`
	LLow             float64 `yaml:"LLow"`             // collapse threshold in metric units
	LMax             float64 `yaml:"LMax"`             // expansion ceiling in metric units
	SmoothMethod     string  `yaml:"SmoothMethod"`     // "Laplacian", "smart Laplacian", "optimisation Linf"
	SmoothIterations int     `yaml:"SmoothIterations"` // sweep cap
	QualityTol       float64 `yaml:"QualityTol"`       // good-enough quality, <=0 for mesh mean
	CoplanarTol      float64 `yaml:"CoplanarTol"`      // facet normal dot-product tolerance
	Partitions       int     `yaml:"Partitions"`       // METIS ranks, <=1 for serial
}

func DefaultAdaptParameters() *AdaptParameters {
	return &AdaptParameters{
		LLow:             1.0 / 1.4142135623730951,
		LMax:             1.4142135623730951,
		SmoothMethod:     "optimisation Linf",
		SmoothIterations: 10,
		QualityTol:       -1,
		CoplanarTol:      0.9999999,
		Partitions:       1,
	}
}

func (ap *AdaptParameters) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, ap); err != nil {
		return err
	}
	return ap.Validate()
}

func (ap *AdaptParameters) Validate() error {
	if !(ap.LLow < 1 && 1 < ap.LMax) {
		return fmt.Errorf("thresholds must satisfy LLow < 1 < LMax, have %g and %g", ap.LLow, ap.LMax)
	}
	if ap.SmoothIterations < 1 {
		return fmt.Errorf("SmoothIterations must be at least 1, have %d", ap.SmoothIterations)
	}
	if ap.CoplanarTol <= 0 || ap.CoplanarTol > 1 {
		return fmt.Errorf("CoplanarTol must lie in (0, 1], have %g", ap.CoplanarTol)
	}
	return nil
}

func (ap *AdaptParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ap.Title)
	fmt.Printf("%8.5f\t\t= LLow\n", ap.LLow)
	fmt.Printf("%8.5f\t\t= LMax\n", ap.LMax)
	fmt.Printf("[%s]\t= SmoothMethod\n", ap.SmoothMethod)
	fmt.Printf("[%d]\t\t\t= SmoothIterations\n", ap.SmoothIterations)
	fmt.Printf("%8.5f\t\t= QualityTol\n", ap.QualityTol)
	fmt.Printf("%.7f\t\t= CoplanarTol\n", ap.CoplanarTol)
	fmt.Printf("[%d]\t\t\t= Partitions\n", ap.Partitions)
}
