package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const (
	TaskBinaryClassification = "binary_classification"
	TaskRegression           = "regression"

	FeatureCategorical = "categorical"
	FeatureNumeric     = "numeric"
)

// FeatureSpec describes one input field. Field order in the config is the
// field order of every batch.
type FeatureSpec struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	VocabSize int    `yaml:"vocab_size"`
}

type Config struct {
	ModelID string `yaml:"model_id"`
	Task    string `yaml:"task"`

	EmbeddingDim int `yaml:"embedding_dim"`
	Depth        int `yaml:"depth"`
	NumHeads     int `yaml:"num_heads"`
	HeadDim      int `yaml:"dim_head"`
	ScaleDim     int `yaml:"scale_dim"`

	AttentionDropout float64 `yaml:"dropout"`
	FFNDropout       float64 `yaml:"ffn_dropout"`
	EmbeddingDropout float64 `yaml:"emb_dropout"`
	NetDropout       float64 `yaml:"net_dropout"`

	UseWide        bool   `yaml:"use_wide"`
	DNNHiddenUnits []int  `yaml:"dnn_hidden_units"`
	DNNActivations string `yaml:"dnn_activations"`

	// TopK is the expected neighbour count; zero accepts whatever uniform
	// count each batch carries.
	TopK int `yaml:"top_k"`

	EmbeddingInitStd float64 `yaml:"embedding_init_std"`
	Seed             uint64  `yaml:"seed"`

	Features []FeatureSpec `yaml:"features"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		ModelID:          "RAT_m3",
		Task:             TaskBinaryClassification,
		EmbeddingDim:     10,
		Depth:            4,
		NumHeads:         4,
		HeadDim:          10,
		ScaleDim:         4,
		DNNHiddenUnits:   []int{64, 64, 64},
		DNNActivations:   "relu",
		EmbeddingInitStd: 1e-4,
		Seed:             2021,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

func (c *Config) Validate() error {
	switch c.Task {
	case TaskBinaryClassification, TaskRegression:
	default:
		return invalid("unknown task %q", c.Task)
	}
	if c.EmbeddingDim <= 0 {
		return invalid("embedding_dim: %d (must be positive)", c.EmbeddingDim)
	}
	if c.Depth <= 0 {
		return invalid("depth: %d (must be positive)", c.Depth)
	}
	if c.HeadDim <= 0 {
		return invalid("dim_head: %d (must be positive)", c.HeadDim)
	}
	if c.NumHeads < 2 {
		return invalid("num_heads: %d (intra and cross attention each take half, need at least 2)", c.NumHeads)
	}
	if heads := c.NumHeads / 2; (c.NumHeads*c.HeadDim)%heads != 0 {
		return invalid("num_heads*dim_head = %d not divisible by %d effective heads", c.NumHeads*c.HeadDim, heads)
	}
	if c.ScaleDim <= 0 {
		return invalid("scale_dim: %d (must be positive)", c.ScaleDim)
	}
	for name, p := range map[string]float64{
		"dropout":     c.AttentionDropout,
		"ffn_dropout": c.FFNDropout,
		"emb_dropout": c.EmbeddingDropout,
		"net_dropout": c.NetDropout,
	} {
		if p < 0 || p >= 1 {
			return invalid("%s: %v (must be in [0, 1))", name, p)
		}
	}
	for i, units := range c.DNNHiddenUnits {
		if units <= 0 {
			return invalid("dnn_hidden_units[%d]: %d (must be positive)", i, units)
		}
	}
	switch strings.ToLower(c.DNNActivations) {
	case "relu", "gelu", "tanh", "sigmoid", "", "linear", "identity":
	default:
		return invalid("unknown dnn_activations %q", c.DNNActivations)
	}
	if c.TopK < 0 {
		return invalid("top_k: %d (must be non-negative)", c.TopK)
	}
	if c.EmbeddingInitStd <= 0 {
		return invalid("embedding_init_std: %v (must be positive)", c.EmbeddingInitStd)
	}
	if len(c.Features) == 0 {
		return invalid("no features configured")
	}
	seen := make(map[string]bool, len(c.Features))
	for i, f := range c.Features {
		if f.Name == "" {
			return invalid("features[%d]: missing name", i)
		}
		if seen[f.Name] {
			return invalid("features[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case FeatureCategorical:
			if f.VocabSize <= 0 {
				return invalid("feature %q: vocab_size %d (must be positive)", f.Name, f.VocabSize)
			}
		case FeatureNumeric:
		default:
			return invalid("feature %q: unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

func (c *Config) NumFields() int {
	return len(c.Features)
}

// HiddenDim is the feed-forward width of every encoder block.
func (c *Config) HiddenDim() int {
	return c.EmbeddingDim * c.ScaleDim
}

func (c *Config) IsClassification() bool {
	return c.Task == TaskBinaryClassification
}
