package videogen

import "server/internal/domain"

// NormalizeParams maps a caller's requested duration/resolution/aspect-ratio
// onto the closest values the model actually supports. It never fails: the
// output is always provider-acceptable, and any deviation from the request is
// silent and visible only in the job metadata.
func NormalizeParams(spec ModelSpec, durationSeconds int, resolution, aspectRatio string) domain.JobMetadata {
	return domain.JobMetadata{
		Provider:        string(spec.Provider),
		Model:           spec.ID,
		DurationSeconds: normalizeDuration(spec, durationSeconds),
		Resolution:      normalizeResolution(spec, durationSeconds, resolution),
		AspectRatio:     normalizeAspect(spec, aspectRatio),
	}
}

// normalizeDuration keeps an allowed value, otherwise picks the allowed value
// with the smallest absolute difference. Ties go to the earlier table entry
// (tables are ascending, so the lower value wins).
func normalizeDuration(spec ModelSpec, requested int) int {
	if len(spec.Durations) == 0 {
		return requested
	}
	best := spec.Durations[0]
	bestDiff := absInt(requested - best)
	for _, d := range spec.Durations[1:] {
		if diff := absInt(requested - d); diff < bestDiff {
			best = d
			bestDiff = diff
		}
	}
	return best
}

// normalizeResolution keeps an allowed value or falls back to the provider
// default, then applies the cross-field rule: the highest resolution tier is
// only valid at the model's maximum duration.
func normalizeResolution(spec ModelSpec, requestedDuration int, requested string) string {
	resolution := defaultResolutions[spec.Provider]
	for _, r := range spec.Resolutions {
		if r == requested {
			resolution = requested
			break
		}
	}

	if len(spec.Resolutions) > 1 && resolution == spec.Resolutions[len(spec.Resolutions)-1] {
		if normalizeDuration(spec, requestedDuration) != spec.MaxDuration() {
			resolution = spec.Resolutions[len(spec.Resolutions)-2]
		}
	}
	return resolution
}

// normalizeAspect forces the derive-from-image sentinel when the model
// publishes no aspect set, keeps an allowed value, and otherwise falls back to
// the model default.
func normalizeAspect(spec ModelSpec, requested string) string {
	if len(spec.AspectRatios) == 0 {
		return AspectAuto
	}
	for _, a := range spec.AspectRatios {
		if a == requested {
			return requested
		}
	}
	return spec.DefaultAspect
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
