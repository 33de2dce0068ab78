package builtintools

import "github.com/metricloop/agentrt/tools"

// Done is the terminating tool registered in every mode's terminating_tools
// set except Initializing. Calling it does not itself end the run — the
// Tool Executor Loop ends the run when it sees this tool's name in the
// active mode's terminator set (SPEC_FULL.md §4.6 step 5) — Done only
// produces the closing summary text fed back as its Tool result.
func Done() tools.Descriptor {
	parameters := objectSchema(map[string]any{
		"summary": stringProp("A short summary of what was accomplished this run."),
	}, "summary")

	return tools.Descriptor{
		Name:        "done",
		Description: "Finish the run with a closing summary.",
		JSONSchema: jsonSchema("done",
			"Finish the run with a closing summary.", parameters),
		ParameterSchema: parameters,
		Gate:            tools.AlwaysEnabled,
		Execute: func(ctx tools.ExecContext) (any, error) {
			summary, err := getString(ctx.Params, "summary")
			if err != nil {
				return nil, err
			}
			return map[string]any{"summary": summary}, nil
		},
	}
}
