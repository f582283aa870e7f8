package tool

import (
	"context"
	"fmt"
	"strings"

	"spdropbot/internal/knowledge"
)

// ScriptSearchTool looks up sample sales conversations to model replies on.
type ScriptSearchTool struct {
	scripts *knowledge.Scripts
}

func NewScriptSearchTool(scripts *knowledge.Scripts) *ScriptSearchTool {
	return &ScriptSearchTool{scripts: scripts}
}

func (t *ScriptSearchTool) Name() string { return "script_search" }
func (t *ScriptSearchTool) Description() string {
	return "Search the sales-script catalogue for example lines by customer profile, conversation stage " +
		"(abertura, objecao, fechamento...), script type or keyword. Set list_profiles to see the available profiles."
}
func (t *ScriptSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"profile":       {Type: "string", Description: "Customer profile name or part of it, e.g. 'Estudante'"},
			"stage":         {Type: "string", Description: "Conversation stage, e.g. 'objecao'"},
			"script_type":   {Type: "string", Description: "Script type", Enum: []string{"normal", "promocao"}},
			"keyword":       {Type: "string", Description: "Word that must appear in the line"},
			"list_profiles": {Type: "boolean", Description: "Return the profile list instead of script lines"},
		},
		nil,
	)
}

func (t *ScriptSearchTool) Execute(_ context.Context, args map[string]any) (string, error) {
	if listProfiles, _ := args["list_profiles"].(bool); listProfiles {
		profiles := t.scripts.Profiles()
		return jsonResult(map[string]any{"total": len(profiles), "profiles": profiles})
	}

	q := knowledge.ScriptQuery{
		Profile: strings.TrimSpace(ArgsString(args, "profile")),
		Stage:   strings.TrimSpace(ArgsString(args, "stage")),
		Type:    strings.TrimSpace(ArgsString(args, "script_type")),
		Keyword: strings.TrimSpace(ArgsString(args, "keyword")),
	}
	if q == (knowledge.ScriptQuery{}) {
		return "", fmt.Errorf("%w: give at least one of profile, stage, script_type, keyword or list_profiles", ErrInvalidArgs)
	}

	lines := t.scripts.Search(q)
	if len(lines) == 0 {
		return jsonResult(map[string]any{"found": false, "message": "no script lines match"})
	}
	return jsonResult(map[string]any{"found": true, "total": len(lines), "lines": lines})
}
