package builtintools

import (
	"fmt"

	"github.com/metricloop/agentrt/tools"
)

// WriteMetricFile writes one or more metric definition files. Its arguments
// shape ({files: [{name, yml_content}]}) is the shape the Streaming Parser's
// File artifact logic is grounded on (see streamparser.fileFieldPattern):
// "name" and "yml_content" must appear together, in that order, as adjacent
// JSON fields for progressive line recovery to work while the call streams.
//
// Per SPEC_FULL.md §4.7a this tool does not mutate mode-determining state;
// its output is surfaced purely via the File artifacts and the Tool result
// event, consumed by the out-of-scope persistence collaborator.
func WriteMetricFile() tools.Descriptor {
	fileSchema := objectSchema(map[string]any{
		"name":        stringProp("The metric file's name, without extension."),
		"yml_content": stringProp("The file's full YAML content."),
	}, "name", "yml_content")

	parameters := objectSchema(map[string]any{
		"files": map[string]any{
			"type":  "array",
			"items": fileSchema,
		},
	}, "files")

	return tools.Descriptor{
		Name:        "write_metric_file",
		Description: "Write one or more metric definition files.",
		JSONSchema: jsonSchema("write_metric_file",
			"Write one or more metric definition files.", parameters),
		ParameterSchema: parameters,
		Gate:            tools.AlwaysEnabled,
		Artifacts:       tools.ArtifactsModeOn,
		Execute: func(ctx tools.ExecContext) (any, error) {
			raw, ok := ctx.Params["files"].([]any)
			if !ok || len(raw) == 0 {
				return nil, fmt.Errorf("builtintools: write_metric_file requires a non-empty files array")
			}
			names := make([]string, 0, len(raw))
			for i, entry := range raw {
				obj, ok := entry.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("builtintools: files[%d] must be an object", i)
				}
				name, err := getString(obj, "name")
				if err != nil {
					return nil, fmt.Errorf("files[%d]: %w", i, err)
				}
				if _, err := getString(obj, "yml_content"); err != nil {
					return nil, fmt.Errorf("files[%d]: %w", i, err)
				}
				names = append(names, name)
				ctx.Emit(map[string]any{"written": name})
			}
			return map[string]any{"files_written": names}, nil
		},
	}
}
