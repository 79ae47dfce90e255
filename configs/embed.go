// Package configs provides embedded configuration templates for repoqa.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they are available in all distributions (go install and binary releases).
//
// The templates are used by:
//   - repoqa init --user  -> creates the user config at ~/.config/repoqa/config.yaml
//   - repoqa init         -> creates a project .repoqa.yaml
//
// Configuration hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config (~/.config/repoqa/config.yaml)
//  3. Project config (.repoqa.yaml)
//  4. Environment variables (REPOQA_*)
package configs

import _ "embed"

// DefaultConfigTemplate is the annotated user/machine-level configuration.
// Contains machine-specific settings: data dir, provider endpoints, API keys.
//
//go:embed default.yaml
var DefaultConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration,
// version-controlled with the repository: retrieval tuning, chunking,
// scan excludes.
//
//go:embed project.example.yaml
var ProjectConfigTemplate string
