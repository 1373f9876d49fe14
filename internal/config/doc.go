// Package config loads, normalizes, and validates tafkit configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TAFKIT_SERVER_URL. The Config type centralizes every knob the CLI and the
// orchestration components need: server location, state and log directories,
// encode defaults, URL import quality, event stream timing, and notifications.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
