// Package videogen orchestrates video-clip generation jobs: dispatch to a
// provider, duplicate suppression, spending-limit gating, crash-resilient
// operation backup, and the poll/advance state machine that drives an
// in-flight provider operation to a terminal job.
package videogen

import "strings"

// Provider identifies which adapter serves a model.
type Provider string

const (
	// ProviderGoogle is asynchronous: submit returns an operation handle that
	// must be polled to completion.
	ProviderGoogle Provider = "google"
	// ProviderReplicate is synchronous: submit blocks until the artifact is
	// ready, so its jobs are created already terminal.
	ProviderReplicate Provider = "replicate"
)

// AspectAuto is the sentinel meaning "derive the aspect ratio from the
// reference image"; it is forced when a model publishes no aspect-ratio set.
const AspectAuto = "auto"

// ModelSpec describes what one provider model actually supports. Durations
// and resolutions are ordered ascending; the table order is the tie-breaker
// for duration normalization.
type ModelSpec struct {
	ID            string
	Provider      Provider
	Durations     []int
	Resolutions   []string
	AspectRatios  []string
	DefaultAspect string
}

// MaxDuration returns the longest duration the model supports.
func (m ModelSpec) MaxDuration() int {
	if len(m.Durations) == 0 {
		return 0
	}
	return m.Durations[len(m.Durations)-1]
}

// modelSpecs enumerates the supported models. The model id's namespace also
// selects the adapter: owner-prefixed ids (owner/name) run on Replicate,
// veo-* ids run on Google.
var modelSpecs = map[string]ModelSpec{
	"veo-2.0-generate-001": {
		ID:            "veo-2.0-generate-001",
		Provider:      ProviderGoogle,
		Durations:     []int{5, 6, 7, 8},
		Resolutions:   []string{"720p"},
		AspectRatios:  []string{"16:9", "9:16"},
		DefaultAspect: "16:9",
	},
	"veo-3.0-generate-001": {
		ID:            "veo-3.0-generate-001",
		Provider:      ProviderGoogle,
		Durations:     []int{4, 6, 8},
		Resolutions:   []string{"720p", "1080p"},
		AspectRatios:  []string{"16:9", "9:16"},
		DefaultAspect: "16:9",
	},
	"veo-3.0-fast-generate-001": {
		ID:            "veo-3.0-fast-generate-001",
		Provider:      ProviderGoogle,
		Durations:     []int{4, 6, 8},
		Resolutions:   []string{"720p", "1080p"},
		AspectRatios:  []string{"16:9", "9:16"},
		DefaultAspect: "16:9",
	},
	"wan-video/wan-2.2-i2v-fast": {
		ID:          "wan-video/wan-2.2-i2v-fast",
		Provider:    ProviderReplicate,
		Durations:   []int{5, 8},
		Resolutions: []string{"480p", "720p"},
		// No aspect list: the model derives the ratio from the input image.
	},
}

// defaultResolutions is the per-provider fallback when a requested resolution
// is not in the model's allowed set.
var defaultResolutions = map[Provider]string{
	ProviderGoogle:    "720p",
	ProviderReplicate: "480p",
}

// ResolveModel looks up the capability table for a model id.
func ResolveModel(modelID string) (ModelSpec, bool) {
	spec, ok := modelSpecs[strings.TrimSpace(modelID)]
	return spec, ok
}
