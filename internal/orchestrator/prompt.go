package orchestrator

import (
	"strings"
	"text/template"
)

// UpdateSurfaceOperation is the runtime operation that replaces a surface
// component's source
const UpdateSurfaceOperation = "update_surface_component"

const repairPromptText = `A generated UI component failed and needs a targeted repair.

Surface: {{.SurfaceID}}
Component: {{.ComponentName}}
Error type: {{.ErrorType}}
Attempt: {{.Attempt}} of {{.MaxAttempts}}

Error:
{{.ErrorText}}

Current source:
<source>
{{.BrokenSource}}
</source>

Rules:
- Fix only the error reported above.
- Do not change unrelated behaviour, layout, data handling or naming.
- Emit the complete corrected source with the {{.Operation}} operation for surface "{{.SurfaceID}}", component "{{.ComponentName}}".
- Do not reply with prose instead of calling {{.Operation}}.
`

var repairPrompt = template.Must(template.New("repair").Parse(repairPromptText))

type repairPromptData struct {
	SurfaceErrorReport
	MaxAttempts int
	Operation   string
}

// buildRepairPrompt renders the repair instruction for one report
func buildRepairPrompt(rep SurfaceErrorReport, maxAttempts int) (string, error) {
	var b strings.Builder
	err := repairPrompt.Execute(&b, repairPromptData{
		SurfaceErrorReport: rep,
		MaxAttempts:        maxAttempts,
		Operation:          UpdateSurfaceOperation,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
