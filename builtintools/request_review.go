package builtintools

import "github.com/metricloop/agentrt/tools"

// RequestReview marks the run as needing a review pass, which the state→mode
// function routes to the Review mode on the next transition regardless of
// the catalog, data-context and plan keys (only the Initializing guard is
// checked before it).
func RequestReview() tools.Descriptor {
	parameters := objectSchema(map[string]any{
		"reason": stringProp("Why this output needs review before it is finalized."),
	})

	return tools.Descriptor{
		Name:        "request_review",
		Description: "Flag the current output for human review before finalizing.",
		JSONSchema: jsonSchema("request_review",
			"Flag the current output for human review before finalizing.", parameters),
		ParameterSchema: parameters,
		Gate:            tools.AlwaysEnabled,
		Execute: func(ctx tools.ExecContext) (any, error) {
			reason, _ := ctx.Params["reason"].(string)
			ctx.State.Set("review_needed", true)
			return map[string]any{"review_requested": true, "reason": reason}, nil
		},
	}
}
