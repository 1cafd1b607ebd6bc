package models

import "fmt"

// OrganizationConfig weights the three components of the combined priority score.
type OrganizationConfig struct {
	RecencyWeight    float64 `json:"recency_weight" mapstructure:"recency_weight"`
	ImportanceWeight float64 `json:"importance_weight" mapstructure:"importance_weight"`
	RelevanceWeight  float64 `json:"relevance_weight" mapstructure:"relevance_weight"`
}

// DefaultOrganizationConfig returns the default weights.
func DefaultOrganizationConfig() OrganizationConfig {
	return OrganizationConfig{
		RecencyWeight:    0.3,
		ImportanceWeight: 0.4,
		RelevanceWeight:  0.3,
	}
}

// Validate rejects negative weights.
func (c OrganizationConfig) Validate() error {
	if c.RecencyWeight < 0 {
		return fmt.Errorf("recency_weight must be >= 0")
	}
	if c.ImportanceWeight < 0 {
		return fmt.Errorf("importance_weight must be >= 0")
	}
	if c.RelevanceWeight < 0 {
		return fmt.Errorf("relevance_weight must be >= 0")
	}
	return nil
}
