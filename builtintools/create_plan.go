package builtintools

import (
	"github.com/metricloop/agentrt/tools"
)

// CreatePlanGate exposes the tool once data context is available and no plan
// has been accepted yet.
var CreatePlanGate = and(truthyKey("data_context"), not(boolKey("plan_available")))

// CreatePlan accepts a markdown analysis plan. Its "markdown" argument is the
// field the Streaming Parser's Plan artifact logic walks as it streams in
// (see streamparser.markdownFieldPattern), so the argument key is fixed by
// that contract rather than by this tool's own preference.
func CreatePlan() tools.Descriptor {
	return tools.Descriptor{
		Name:        "create_plan",
		Description: "Record the analysis plan for the current data context.",
		JSONSchema: jsonSchema("create_plan",
			"Record the analysis plan for the current data context.",
			objectSchema(map[string]any{
				"markdown": stringProp("The plan, in markdown."),
			}, "markdown"),
		),
		ParameterSchema: objectSchema(map[string]any{
			"markdown": stringProp("The plan, in markdown."),
		}, "markdown"),
		Gate:      CreatePlanGate,
		Artifacts: tools.ArtifactsModeOn,
		Execute: func(ctx tools.ExecContext) (any, error) {
			markdown, err := getString(ctx.Params, "markdown")
			if err != nil {
				return nil, err
			}
			ctx.State.Set("plan_available", true)
			return map[string]any{"accepted": true, "length": len(markdown)}, nil
		},
	}
}
