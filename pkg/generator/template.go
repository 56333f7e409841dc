package generator

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

var documents = template.Must(template.New("documents").Parse(`
{{- define "summary" -}}
Claim {{.ClaimID}} ({{.ClaimType}}) for ${{printf "%.2f" .Amount}} was assessed at risk {{.RiskScore}}/10 ({{.RiskLevel}}) and routed {{.ProcessingPath}}.
{{- end}}

{{- define "report" -}}
CLAIM SUMMARY
Claim {{.ClaimID}} filed by customer {{.CustomerID}} under policy {{.PolicyNumber}}. Type: {{.ClaimType}}. Amount: ${{printf "%.2f" .Amount}}.

INCIDENT DETAILS
Date: {{.Date}}. Location: {{.Location}}. Injuries reported: {{.InjuriesReported}}. Other party involved: {{.OtherPartyInvolved}}. Police report: {{.PoliceReport}}.
{{.Description}}

RISK ASSESSMENT
Score {{.RiskScore}}/10 ({{.RiskLevel}}).{{range .RiskReasons}}
- {{.}}{{end}}

PROCESSING DECISION
Priority {{.Priority}}, adjuster tier {{.AdjusterTier}}.
{{- end}}
`))

// Template renders documentation deterministically from the prompt context. It is used when no
// language model endpoint is configured and never fails on well-formed input.
type Template struct{}

func NewTemplate() *Template {
	return &Template{}
}

func (t *Template) Name() string {
	return "template"
}

func (t *Template) Generate(ctx context.Context, prompt PromptContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer

	if err := documents.ExecuteTemplate(&buf, string(prompt.Task), prompt); err != nil {
		return "", fmt.Errorf("render %s: %w", prompt.Task, err)
	}

	return buf.String(), nil
}
