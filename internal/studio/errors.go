package studio

import "errors"

var (
	// ErrNetworkExhausted means every attempt of a retried call failed.
	ErrNetworkExhausted = errors.New("network retry budget exhausted")
	// ErrParseFailure means a generative response held no recoverable JSON.
	ErrParseFailure = errors.New("generative response is not recoverable json")
	// ErrPipelineBlocked means at least one content generation failed.
	ErrPipelineBlocked = errors.New("pipeline blocked: content generation failed")
	// ErrExportFailure means rendering or packaging aborted the run.
	ErrExportFailure = errors.New("export failed")
	// ErrBusy rejects a run while another is in progress.
	ErrBusy = errors.New("a production run is already in progress")
	// ErrNoTargets means neither the caller nor discovery produced a subject.
	ErrNoTargets = errors.New("no production targets available")
	// ErrNoAPIKey means no generative API credential is configured.
	ErrNoAPIKey = errors.New("generative api key is not configured")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)
