package api

import (
	"net/http"
	"strings"

	"github.com/mattjoyce/conduit/internal/pipeline"
)

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.pipelines.Pipelines()))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the job API. The
// pipeline field of a submission is constrained to the configured pipelines.
func buildOpenAPIDoc(pipelines []*pipeline.TaskPipeline) map[string]any {
	ids := make([]string, 0, len(pipelines))
	var summary []string
	for _, p := range pipelines {
		ids = append(ids, p.ID().String())
		line := p.ID().String()
		if d := p.Description(); d != "" {
			line += ": " + d
		}
		summary = append(summary, line)
	}

	pipelineProp := map[string]any{"type": "string"}
	if len(ids) > 0 {
		pipelineProp["enum"] = ids
		pipelineProp["description"] = strings.Join(summary, "\n")
	}

	secured := []any{map[string]any{"BearerAuth": []string{}}}
	jobRef := map[string]any{"$ref": "#/components/schemas/Job"}
	jsonContent := func(schema map[string]any) map[string]any {
		return map[string]any{"application/json": map[string]any{"schema": schema}}
	}
	idParam := []any{map[string]any{"name": "jobID", "in": "path", "required": true, "schema": map[string]any{"type": "string"}}}

	paths := map[string]any{
		"/jobs": map[string]any{
			"get": map[string]any{
				"operationId": "listJobs",
				"summary":     "List jobs, newest first",
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "Jobs"}},
			},
			"post": map[string]any{
				"operationId": "submitJob",
				"summary":     "Submit a job",
				"security":    secured,
				"requestBody": map[string]any{
					"required": true,
					"content":  jsonContent(map[string]any{"$ref": "#/components/schemas/SubmitJobRequest"}),
				},
				"responses": map[string]any{
					"202": map[string]any{"description": "Job accepted", "content": jsonContent(jobRef)},
					"400": map[string]any{"description": "Bad request"},
					"404": map[string]any{"description": "Unknown pipeline"},
				},
			},
		},
		"/jobs/{jobID}": map[string]any{
			"get": map[string]any{
				"operationId": "getJob",
				"parameters":  idParam,
				"security":    secured,
				"responses": map[string]any{
					"200": map[string]any{"description": "Job", "content": jsonContent(jobRef)},
					"404": map[string]any{"description": "Job not found"},
				},
			},
		},
		"/jobs/{jobID}/cancel": map[string]any{
			"post": map[string]any{
				"operationId": "cancelJob",
				"parameters":  idParam,
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "Status after cancellation"}},
			},
		},
		"/jobs/{jobID}/retry": map[string]any{
			"post": map[string]any{
				"operationId": "retryJob",
				"parameters":  idParam,
				"security":    secured,
				"responses": map[string]any{
					"202": map[string]any{"description": "Job resubmitted"},
					"409": map[string]any{"description": "Job is not errored or cancelled"},
				},
			},
		},
		"/jobs/{jobID}/history": map[string]any{
			"get": map[string]any{
				"operationId": "jobHistory",
				"parameters":  idParam,
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "Status transitions, oldest first"}},
			},
		},
		"/pipelines": map[string]any{
			"get": map[string]any{
				"operationId": "listPipelines",
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "Configured pipelines"}},
			},
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "conduit",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"SubmitJobRequest": map[string]any{
					"type":     "object",
					"required": []string{"pipeline", "inputs"},
					"properties": map[string]any{
						"container":   map[string]any{"type": "string"},
						"pipeline":    pipelineProp,
						"description": map[string]any{"type": "string"},
						"params":      map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
						"inputs":      map[string]any{"type": "array", "minItems": 1, "items": map[string]any{"type": "string"}},
					},
				},
				"Job": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"job_id":      map[string]any{"type": "string"},
						"pipeline":    map[string]any{"type": "string"},
						"status":      map[string]any{"type": "string", "enum": []string{"waiting", "running", "complete", "error", "cancelled"}},
						"status_info": map[string]any{"type": "string"},
						"active_task": map[string]any{"type": "integer"},
					},
				},
			},
		},
	}
}
