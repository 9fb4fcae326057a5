// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package relevance

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Tier weights applied per matched term.
const (
	CoreWeight        = 3.0
	MediumWeight      = 2.0
	TechnologyWeight  = 1.5
	ApplicationWeight = 1.0
)

// Table is the weighted keyword table driving the scorer. Each tier is
// a set of case-insensitive substring patterns. The weights and lists
// are tunable configuration, not fixed business logic; load overrides
// with LoadTable.
type Table struct {
	Core        []string `yaml:"core_keywords"`
	Medium      []string `yaml:"medium_keywords"`
	Technology  []string `yaml:"technology_keywords"`
	Application []string `yaml:"application_keywords"`

	// AllowedCommunities earn a flat score bonus for topical fit.
	AllowedCommunities []string `yaml:"allowed_communities"`
}

// Size returns the total keyword count across all tiers.
func (t Table) Size() int {
	return len(t.Core) + len(t.Medium) + len(t.Technology) + len(t.Application)
}

// Validate rejects tables with no keywords at all.
func (t Table) Validate() error {
	if t.Size() == 0 {
		return fmt.Errorf("keyword table is empty")
	}
	return nil
}

// DefaultTable returns the built-in AI-topic table.
func DefaultTable() Table {
	return Table{
		Core: []string{
			"artificial intelligence", "machine learning", "deep learning",
			"neural network", "transformer", "gpt", "chatgpt", "openai",
			"claude", "gemini", "llm", "large language model", "generative ai",
			"stable diffusion", "midjourney", "dall-e",
		},
		Medium: []string{
			"ai", "ml", "dl", "algorithm", "model", "training",
			"inference", "fine-tuning", "prompt engineering", "nlp",
			"computer vision", "reinforcement learning", "supervised learning",
		},
		Technology: []string{
			"tensorflow", "pytorch", "keras", "hugging face", "transformers",
			"cuda", "gpu", "tpu", "python", "jupyter", "colab",
			"langchain", "vector database", "embedding", "attention mechanism",
		},
		Application: []string{
			"chatbot", "virtual assistant", "recommendation system",
			"image recognition", "speech recognition", "text generation",
			"image generation", "code generation", "translation",
			"sentiment analysis", "classification", "regression",
		},
		AllowedCommunities: []string{
			"artificial", "machinelearning", "deeplearning", "chatgpt",
			"openai", "localllama", "agi", "singularity",
		},
	}
}

// LoadTable reads a keyword table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading keyword table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parsing keyword table %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, fmt.Errorf("keyword table %s: %w", path, err)
	}
	return t, nil
}
