// Package config loads the YAML defaults bssctl create uses when the
// command line doesn't give them: block size and record length-field width
// and format. The file may also name data/index files; bssctl takes those
// paths from its arguments and does not read them from the config.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/caseyhaas/zipbss"
)

// Config holds the defaults read from a bssctl.yaml file.
type Config struct {
	BlockSize       int    `yaml:"block_size"`
	RecordSizeBytes int    `yaml:"record_size_bytes"`
	BinaryLength    bool   `yaml:"binary_length"`
	DataFile        string `yaml:"data_file"`
	IndexFile       string `yaml:"index_file"`
}

// Default matches engine.DefaultOptions: 512-byte blocks, a 4-byte ASCII
// length field.
func Default() Config {
	return Config{
		BlockSize:       512,
		RecordSizeBytes: 4,
		BinaryLength:    false,
		DataFile:        "zipcode.bss",
		IndexFile:       "zipcode.idx",
	}
}

// Load reads a YAML config file at path, starting from Default and
// overriding whichever fields the file sets. A missing file returns the
// defaults unchanged, matching bssctl's "config is optional" usage.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, zipbss.WrapIO("config.Load", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, zipbss.NewFormatError("config.Load", err)
	}
	return cfg, nil
}

// Validate rejects configurations that could never produce a usable
// store: a non-positive block size, or a record length field too narrow
// to hold any record at all.
func (c Config) Validate() error {
	if c.BlockSize <= 0 {
		return zipbss.NewCorruption("block_size must be positive, got %d", c.BlockSize)
	}
	if c.RecordSizeBytes <= 0 {
		return zipbss.NewCorruption("record_size_bytes must be positive, got %d", c.RecordSizeBytes)
	}
	if !c.BinaryLength && c.RecordSizeBytes > 9 {
		return zipbss.NewCorruption("record_size_bytes %d exceeds the widest ASCII length field bssctl supports", c.RecordSizeBytes)
	}
	return nil
}
