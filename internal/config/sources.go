package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DataSource is one named connection. Exactly one of URL or Lake is set.
type DataSource struct {
	Name            string        `yaml:"name"`
	URL             string        `yaml:"url"`
	Driver          string        `yaml:"driver"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Timeout         time.Duration `yaml:"timeout"`
	Lake            *LakeConfig   `yaml:"lake"`
}

type sourcesFile struct {
	DataSources []DataSource `yaml:"datasources"`
}

func LoadDataSourcesFile(path string) ([]DataSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data sources file: %w", err)
	}
	sources, err := ParseDataSources(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sources, nil
}

// ParseDataSources decodes a YAML document with a top-level datasources list.
// Unknown keys are rejected.
func ParseDataSources(raw []byte) ([]DataSource, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var file sourcesFile
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode data sources: %w", err)
	}
	for i, source := range file.DataSources {
		source.Name = strings.TrimSpace(source.Name)
		source.URL = strings.TrimSpace(source.URL)
		if source.Name == "" {
			return nil, fmt.Errorf("data source %d: name is required", i)
		}
		switch {
		case source.Lake != nil && source.URL != "":
			return nil, fmt.Errorf("data source %q: url and lake are mutually exclusive", source.Name)
		case source.Lake != nil && !source.Lake.Enabled():
			return nil, fmt.Errorf("data source %q: lake bucket is required", source.Name)
		case source.Lake == nil && source.URL == "":
			return nil, fmt.Errorf("data source %q: url is required", source.Name)
		}
		file.DataSources[i] = source
	}
	return file.DataSources, nil
}
