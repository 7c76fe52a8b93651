// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/visual-search/pkg/types"
)

// TierFile is the on-disk form of a tier order, letting an operator
// reorder or narrow the sources without touching the main config.
//
//	tiers:
//	  - name: open
//	    sources: [openverse, wikimedia]
type TierFile struct {
	Tiers []types.SearchTier `yaml:"tiers"`
}

// ReadTierFile loads a tier order from a YAML file.
func ReadTierFile(path string) ([]types.SearchTier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier file: %w", err)
	}
	var tf TierFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing tier file: %w", err)
	}
	if len(tf.Tiers) == 0 {
		return nil, fmt.Errorf("tier file %s lists no tiers", path)
	}
	return tf.Tiers, nil
}

// WriteTierFile saves tiers to a YAML file.
func WriteTierFile(path string, tiers []types.SearchTier) error {
	data, err := yaml.Marshal(&TierFile{Tiers: tiers})
	if err != nil {
		return fmt.Errorf("marshaling tier file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
