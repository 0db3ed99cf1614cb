// Package webhook serves HMAC-signed endpoints that submit pipeline jobs.
//
// Each endpoint is bound to one pipeline and container. The request body is
// a JSON document naming the inputs:
//
//	{"inputs": ["/data/run42/sample.raw"], "params": {"mode": "fast"}}
//
// The body must be signed with HMAC-SHA256 using the endpoint secret, either
// as plain hex or GitHub's "sha256=<hex>" form, in the endpoint's signature
// header (X-Hub-Signature-256 by default).
//
// Responses:
//   - 202 Accepted with the job id
//   - 400 when the body is not a valid payload or names no inputs
//   - 403 for a missing or wrong signature, with no further detail
//   - 413 when the body exceeds max_body_size
//   - 500 when the job could not be submitted
package webhook
