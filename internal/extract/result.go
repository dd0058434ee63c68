package extract

import "time"

type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Failure reasons reported in Result.Reason.
const (
	ReasonOpenDocument    = "open document"
	ReasonImageConversion = "image conversion"
	ReasonRecognition     = "recognition"
	ReasonCanceled        = "canceled"
)

// Result is the outcome of one extraction. A failed result carries no text,
// which keeps "nothing recognised" (ok, empty) apart from "could not run".
type Result struct {
	Kind       Kind          `json:"kind"`
	Status     Status        `json:"status"`
	Text       string        `json:"text"`
	Pages      int           `json:"pages,omitempty"`
	Regions    int           `json:"regions,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Generation uint64        `json:"generation,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusOK }

func failed(kind Kind, reason string) Result {
	return Result{Kind: kind, Status: StatusFailed, Reason: reason}
}
