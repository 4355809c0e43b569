package api

import _ "embed"

// OpenAPISpec holds the raw OpenAPI 3.0 document served under /api/docs.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
