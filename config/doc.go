// Package config loads the quill configuration: defaults, overlaid by
// an optional YAML file, then validated. It also builds the process
// logger from the logging section.
package config
