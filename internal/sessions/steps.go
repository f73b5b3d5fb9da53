package sessions

// Step is one node in the ordered wizard workflow. Order defines UI progress
// and the resume-URL mapping; steps are not strictly linear, but a session's
// CompletedSteps only ever grows forward.
type Step string

const (
	StepUpload           Step = "upload"
	StepProcessing       Step = "processing"
	StepAnalysis         Step = "analysis"
	StepRoleSelection    Step = "role-selection"
	StepFeatureSelection Step = "feature-selection"
	StepTemplates        Step = "templates"
	StepPreview          Step = "preview"
	StepResults          Step = "results"
	StepKeywords         Step = "keywords"
)

var stepOrder = []Step{
	StepUpload,
	StepProcessing,
	StepAnalysis,
	StepRoleSelection,
	StepFeatureSelection,
	StepTemplates,
	StepPreview,
	StepResults,
	StepKeywords,
}

// Steps returns the workflow steps in progression order.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// ValidStep reports whether s is one of the enumerated workflow steps.
func ValidStep(s Step) bool {
	for _, known := range stepOrder {
		if s == known {
			return true
		}
	}
	return false
}

// StepIndex returns the position of s in the workflow, or -1 if unknown.
func StepIndex(s Step) int {
	for i, known := range stepOrder {
		if s == known {
			return i
		}
	}
	return -1
}

// ProgressPercent reports how far through the workflow the step sits, as a
// whole percentage. Unknown steps report zero.
func ProgressPercent(s Step) int {
	idx := StepIndex(s)
	if idx < 0 {
		return 0
	}
	return (idx + 1) * 100 / len(stepOrder)
}

// stepRoutes maps a step to its route prefix. Steps without an entry
// (upload, and anything unrecognized) resolve to the root route.
var stepRoutes = map[Step]string{
	StepProcessing:       "/process/",
	StepAnalysis:         "/analysis/",
	StepFeatureSelection: "/features/",
	StepTemplates:        "/templates/",
	StepPreview:          "/preview/",
	StepResults:          "/results/",
	StepKeywords:         "/keywords/",
}

// ResumeURL derives the route the UI should navigate to when resuming at the
// given step. ref is the job ID when the session has one, else the session ID.
// Unknown or unroutable steps map to the root route; resuming never fails on
// a malformed step value.
func ResumeURL(step Step, ref string) string {
	prefix, ok := stepRoutes[step]
	if !ok || ref == "" {
		return "/"
	}
	return prefix + ref
}
