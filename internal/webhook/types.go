package webhook

import (
	"context"

	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/job"
)

// Submitter starts jobs for webhook deliveries.
type Submitter interface {
	Submit(ctx context.Context, s engine.Submission) (*job.Job, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path, for example "/hooks/instrument".
	Path      string
	Pipeline  string
	Container string
	Secret    string
	// SignatureHeader carries the HMAC signature.
	SignatureHeader string
	MaxBodySize     int64
}

// Payload is the signed request body.
type Payload struct {
	Inputs      []string          `json:"inputs"`
	Params      map[string]string `json:"params,omitempty"`
	Description string            `json:"description,omitempty"`
}

// SubmitResponse is returned for an accepted delivery.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
	DefaultContainer       = "/"
)
