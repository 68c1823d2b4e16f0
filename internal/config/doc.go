// Package config loads, normalizes, and validates gradi configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SQS_INPUT_QUEUE_URL, S3_BUCKET and GEMINI_API_KEY so the worker can run from
// a deployment that only exports environment variables.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical backend names, and clear validation errors.
package config
