// Package config loads, normalizes, and validates scraper configuration data.
//
// It supplies repository defaults (XDG data directory layout), expands user
// paths including tilde shortcuts, reads TOML files, loads .env files, and
// honours environment fallbacks such as SKETCHFAB_API_TOKEN and GITHUB_TOKEN.
// The Config type is constructed once at program entry and passed down; no
// package reads the environment on its own.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
