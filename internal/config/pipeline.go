package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Defaults returned by the Get* accessors when a field is unset.
const (
	defaultGeoFormat  = "stl"
	defaultMeshFormat = "inp"
	defaultSource     = "geometry"
	defaultPadding    = "duplicate-last"
	defaultMinSize    = 3.0
	defaultMaxSize    = 3.0
	defaultSeed       = 1
	defaultComponents = 2
	defaultGmsh       = "gmsh"
)

// PipelineConfig is the run configuration for the balance-and-PCA pipeline.
// Pointer fields distinguish "unset" from zero; the Get* methods supply
// defaults for anything omitted, so partial files are safe.
type PipelineConfig struct {
	// Entities
	Names      []string `json:"names,omitempty" yaml:"names,omitempty"`
	InPath     *string  `json:"in_path,omitempty" yaml:"in_path,omitempty"`
	OutPath    *string  `json:"out_path,omitempty" yaml:"out_path,omitempty"`       // defaults to in_path
	GeoFormat  *string  `json:"geo_format,omitempty" yaml:"geo_format,omitempty"`
	MeshFormat *string  `json:"mesh_format,omitempty" yaml:"mesh_format,omitempty"`
	Source     *string  `json:"source,omitempty" yaml:"source,omitempty"`           // "geometry" or "mesh"

	// Mesh generation
	Generate     *bool    `json:"generate,omitempty" yaml:"generate,omitempty"`
	VerifyOutput *bool    `json:"verify_output,omitempty" yaml:"verify_output,omitempty"`
	MinSize      *float64 `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	MaxSize      *float64 `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	Visualize    *bool    `json:"visualize,omitempty" yaml:"visualize,omitempty"`
	GmshBinary   *string  `json:"gmsh_binary,omitempty" yaml:"gmsh_binary,omitempty"`

	// Balancing and PCA
	Padding     *string `json:"padding,omitempty" yaml:"padding,omitempty"`           // "duplicate-last" or "random-resample"
	Seed        *int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	Components  *int    `json:"components,omitempty" yaml:"components,omitempty"`
	ReshapeRows *int    `json:"reshape_rows,omitempty" yaml:"reshape_rows,omitempty"` // 0 keeps one row per entity

	// Outputs
	DBPath         *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	ReportDir      *string `json:"report_dir,omitempty" yaml:"report_dir,omitempty"`
	ExportBalanced *bool   `json:"export_balanced,omitempty" yaml:"export_balanced,omitempty"`
}

// EmptyPipelineConfig returns a PipelineConfig with every field unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON or YAML file. The
// extension selects the decoder and the file must be at most 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FindDefaultConfig returns the path of DefaultConfigPath, searching from
// the current directory up to four parents.
func FindDefaultConfig() (string, error) {
	path := DefaultConfigPath
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = "../" + path
	}
	return "", fmt.Errorf("cannot find %s: %w", DefaultConfigPath, os.ErrNotExist)
}

// Validate checks the values that are set.
func (c *PipelineConfig) Validate() error {
	for i, n := range c.Names {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("names[%d] is empty", i)
		}
	}
	if c.Source != nil {
		switch strings.ToLower(*c.Source) {
		case "geometry", "mesh":
		default:
			return fmt.Errorf("source must be geometry or mesh, got %q", *c.Source)
		}
	}
	if c.Padding != nil {
		switch strings.ToLower(*c.Padding) {
		case "duplicate-last", "random-resample":
		default:
			return fmt.Errorf("padding must be duplicate-last or random-resample, got %q", *c.Padding)
		}
	}
	if c.MinSize != nil && *c.MinSize <= 0 {
		return fmt.Errorf("min_size must be positive, got %g", *c.MinSize)
	}
	if c.MaxSize != nil && *c.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive, got %g", *c.MaxSize)
	}
	if c.GetMinSize() > c.GetMaxSize() {
		return fmt.Errorf("min_size %g exceeds max_size %g", c.GetMinSize(), c.GetMaxSize())
	}
	if c.Components != nil && *c.Components < 1 {
		return fmt.Errorf("components must be at least 1, got %d", *c.Components)
	}
	if c.ReshapeRows != nil && *c.ReshapeRows < 0 {
		return fmt.Errorf("reshape_rows must be non-negative, got %d", *c.ReshapeRows)
	}
	return nil
}

// Merge copies every set field of o over c. Names replace rather than append.
func (c *PipelineConfig) Merge(o *PipelineConfig) {
	if o == nil {
		return
	}
	if len(o.Names) > 0 {
		c.Names = append([]string(nil), o.Names...)
	}
	mergeString(&c.InPath, o.InPath)
	mergeString(&c.OutPath, o.OutPath)
	mergeString(&c.GeoFormat, o.GeoFormat)
	mergeString(&c.MeshFormat, o.MeshFormat)
	mergeString(&c.Source, o.Source)
	mergeBool(&c.Generate, o.Generate)
	mergeBool(&c.VerifyOutput, o.VerifyOutput)
	mergeFloat(&c.MinSize, o.MinSize)
	mergeFloat(&c.MaxSize, o.MaxSize)
	mergeBool(&c.Visualize, o.Visualize)
	mergeString(&c.GmshBinary, o.GmshBinary)
	mergeString(&c.Padding, o.Padding)
	if o.Seed != nil {
		c.Seed = ptrInt64(*o.Seed)
	}
	mergeInt(&c.Components, o.Components)
	mergeInt(&c.ReshapeRows, o.ReshapeRows)
	mergeString(&c.DBPath, o.DBPath)
	mergeString(&c.ReportDir, o.ReportDir)
	mergeBool(&c.ExportBalanced, o.ExportBalanced)
}

func (c *PipelineConfig) GetInPath() string { return stringOr(c.InPath, ".") }

// GetOutPath falls back to the input directory.
func (c *PipelineConfig) GetOutPath() string { return stringOr(c.OutPath, c.GetInPath()) }

func (c *PipelineConfig) GetGeoFormat() string  { return stringOr(c.GeoFormat, defaultGeoFormat) }
func (c *PipelineConfig) GetMeshFormat() string { return stringOr(c.MeshFormat, defaultMeshFormat) }
func (c *PipelineConfig) GetSource() string     { return stringOr(c.Source, defaultSource) }
func (c *PipelineConfig) GetPadding() string    { return stringOr(c.Padding, defaultPadding) }
func (c *PipelineConfig) GetGmshBinary() string { return stringOr(c.GmshBinary, defaultGmsh) }

// GetDBPath returns "" when run persistence is disabled.
func (c *PipelineConfig) GetDBPath() string { return stringOr(c.DBPath, "") }

// GetReportDir returns "" when report output is disabled.
func (c *PipelineConfig) GetReportDir() string { return stringOr(c.ReportDir, "") }

func (c *PipelineConfig) GetGenerate() bool       { return boolOr(c.Generate, false) }
func (c *PipelineConfig) GetVerifyOutput() bool   { return boolOr(c.VerifyOutput, false) }
func (c *PipelineConfig) GetVisualize() bool      { return boolOr(c.Visualize, false) }
func (c *PipelineConfig) GetExportBalanced() bool { return boolOr(c.ExportBalanced, false) }

func (c *PipelineConfig) GetMinSize() float64 {
	if c.MinSize == nil {
		return defaultMinSize
	}
	return *c.MinSize
}

func (c *PipelineConfig) GetMaxSize() float64 {
	if c.MaxSize == nil {
		return defaultMaxSize
	}
	return *c.MaxSize
}

func (c *PipelineConfig) GetSeed() int64 {
	if c.Seed == nil {
		return defaultSeed
	}
	return *c.Seed
}

func (c *PipelineConfig) GetComponents() int {
	if c.Components == nil {
		return defaultComponents
	}
	return *c.Components
}

func (c *PipelineConfig) GetReshapeRows() int {
	if c.ReshapeRows == nil {
		return 0
	}
	return *c.ReshapeRows
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// PtrString, PtrBool, PtrFloat64 and PtrInt let callers such as flag
// handling build override configs.
func PtrString(v string) *string    { return ptrString(v) }
func PtrBool(v bool) *bool          { return ptrBool(v) }
func PtrFloat64(v float64) *float64 { return ptrFloat64(v) }
func PtrInt(v int) *int             { return ptrInt(v) }
func PtrInt64(v int64) *int64       { return ptrInt64(v) }

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = ptrString(*src)
	}
}

func mergeBool(dst **bool, src *bool) {
	if src != nil {
		*dst = ptrBool(*src)
	}
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		*dst = ptrFloat64(*src)
	}
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		*dst = ptrInt(*src)
	}
}
