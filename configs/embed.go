// Package configs provides the embedded configuration template for ragtune.
//
// The template is embedded at build time with //go:embed so it ships inside
// the binary regardless of how ragtune was installed. 'ragtune init' writes
// it as the project's ragtune.yaml starting point.
//
// To change the template, edit default.yaml in this directory and rebuild.
package configs

import _ "embed"

// DefaultConfigTemplate is the commented starter pipeline configuration
// written by 'ragtune init'. It matches the loader defaults in
// internal/config, so a freshly generated file and no file at all behave
// the same.
//
//go:embed default.yaml
var DefaultConfigTemplate string
