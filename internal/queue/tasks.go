package queue

import (
	"time"

	"github.com/nikhilbhutani/noteuploader/internal/cache"
	"github.com/nikhilbhutani/noteuploader/internal/extract"
)

const (
	TypeDocumentExtract = "document:extract"
)

type DocumentExtractPayload struct {
	JobID string `json:"job_id"`
	Name  string `json:"name"`
}

// JobResult is what a worker leaves in the cache for a finished job.
type JobResult struct {
	JobID      string         `json:"job_id"`
	Name       string         `json:"name"`
	Result     extract.Result `json:"result"`
	FinishedAt time.Time      `json:"finished_at"`
}

func JobKey(jobID string) string {
	return cache.Key("job", jobID)
}
