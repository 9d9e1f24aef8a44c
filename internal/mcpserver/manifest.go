package mcpserver

import (
	"encoding/json"
)

const (
	manifestSchema = "https://static.modelcontextprotocol.io/schemas/2025-10-17/server.schema.json"
	serverName     = "io.github.panbanda/embargo"
	repositoryURL  = "https://github.com/panbanda/embargo"
	imageName      = "ghcr.io/panbanda/embargo"
)

// Manifest is the registry server.json document.
type Manifest struct {
	Schema      string      `json:"$schema"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Repository  *Repository `json:"repository,omitempty"`
	Packages    []Package   `json:"packages,omitempty"`
}

type Repository struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

// Package describes one way to install and launch the server.
type Package struct {
	RegistryType         string        `json:"registryType"`
	Identifier           string        `json:"identifier"`
	PackageArguments     []Argument    `json:"packageArguments,omitempty"`
	EnvironmentVariables []EnvVariable `json:"environmentVariables,omitempty"`
	Transport            Transport     `json:"transport"`
}

type Argument struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

type EnvVariable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsRequired  bool   `json:"isRequired"`
}

type Transport struct {
	Type string `json:"type"`
}

// GenerateManifest returns the indented server.json for version.
// An empty version becomes 0.0.0.
func GenerateManifest(version string) ([]byte, error) {
	if version == "" {
		version = "0.0.0"
	}
	return json.MarshalIndent(Manifest{
		Schema:      manifestSchema,
		Name:        serverName,
		Description: "Multi-language dependency graphs with links across HTTP, CLI, FFI and RPC boundaries",
		Version:     version,
		Repository:  &Repository{URL: repositoryURL, Source: "github"},
		Packages:    []Package{ociPackage(version)},
	}, "", "  ")
}

// ociPackage runs "embargo mcp" from the container image over stdio.
func ociPackage(version string) Package {
	return Package{
		RegistryType:     "oci",
		Identifier:       imageName + ":" + version,
		PackageArguments: []Argument{{Type: "positional", Value: "mcp"}},
		EnvironmentVariables: []EnvVariable{{
			Name:        "EMBARGO_CONFIG",
			Description: "Path to an embargo config file (toml, yaml or json)",
		}},
		Transport: Transport{Type: "stdio"},
	}
}
