// Package config loads the scan relay agent configuration from the `agent:`
// section of config.yaml.
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
