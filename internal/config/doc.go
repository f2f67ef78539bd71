// Package config loads and interprets the sync configuration.
//
// Raw settings come from a YAML file and the environment (LoadRaw). Normalize
// turns them into an immutable Config: each JSON-encoded feature setting is
// parsed, its watch path checked, its shape validated against the embedded
// CUE definitions in schema.cue, and its path expressions compiled into
// selectors.
//
// A misconfigured feature never fails the whole configuration. It is
// reported as a Diagnostic and left nil in the Config, so the other features
// keep running. Setting a watch path to "N/A" switches a feature off the
// same way.
//
// Credential parsing is the exception: a malformed API key is an InitError,
// fatal to the audience client.
package config
