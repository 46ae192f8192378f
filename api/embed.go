// Package api embeds the OpenAPI document of the HTTP API.
package api

import _ "embed"

// OpenAPISpec is served at /api/docs/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
