// Package video contains the provider adapters that translate normalized
// generation parameters into provider-specific submit, poll and download
// protocols.
package video

// SubmitRequest carries the normalized parameters for one generation call.
// Adapters only send the fields their target model accepts.
type SubmitRequest struct {
	Model           string
	Prompt          string
	NegativePrompt  string
	ImageData       []byte
	ImageMIME       string
	DurationSeconds int
	Resolution      string
	// AspectRatio "auto" means "derive from the reference image" and is
	// omitted from the provider payload.
	AspectRatio string
}

// OperationStatus is the normalized view of an asynchronous provider's
// operation-status response.
type OperationStatus struct {
	Done         bool
	ErrorMessage string
	// VideoURL is the artifact's remote location, populated on success by the
	// first matching response-shape extractor.
	VideoURL string
}
