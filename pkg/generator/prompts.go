package generator

import (
	"bytes"
	"fmt"
	"text/template"
)

var prompts = template.Must(template.New("prompts").Parse(`
{{- define "summary" -}}
You are an expert insurance claim documentation specialist. Generate a concise, professional summary of the following claim information.

Claim Details:
- Claim ID: {{.ClaimID}}
- Type: {{.ClaimType}}
- Amount: ${{printf "%.2f" .Amount}}
- Date: {{.Date}}
- Description: {{.Description}}
- Location: {{.Location}}
- Customer ID: {{.CustomerID}}
- Policy Number: {{.PolicyNumber}}

Processing Results:
- Risk Score: {{.RiskScore}}/10
- Risk Level: {{.RiskLevel}}
- Priority: {{.Priority}}
- Adjuster Tier: {{.AdjusterTier}}
- Processing Path: {{.ProcessingPath}}

Generate a professional 2-3 sentence summary that captures the essential information and processing outcome.
{{- end}}

{{- define "report" -}}
You are an expert insurance documentation specialist. Create a comprehensive, professional documentation report for the following claim.

Claim Information:
- Claim ID: {{.ClaimID}}
- Type: {{.ClaimType}}
- Amount: ${{printf "%.2f" .Amount}}
- Date: {{.Date}}
- Description: {{.Description}}
- Location: {{.Location}}
- Customer ID: {{.CustomerID}}
- Policy Number: {{.PolicyNumber}}
- Submission Time: {{.SubmittedAt}}

Additional Details:
- Injuries Reported: {{.InjuriesReported}}
- Police Report: {{.PoliceReport}}
- Other Party Involved: {{.OtherPartyInvolved}}
- Customer Tenure: {{.CustomerTenure}}
- Previous Claims: {{.PreviousClaimsCount}}

Processing Results:
- Validation Status: {{.ValidationStatus}}
- Risk Score: {{.RiskScore}}/10 ({{.RiskLevel}})
- Risk Reasons: {{range $i, $r := .RiskReasons}}{{if $i}}; {{end}}{{$r}}{{else}}none{{end}}
- Priority Level: {{.Priority}}
- Assigned Adjuster Tier: {{.AdjusterTier}}
- Processing Path: {{.ProcessingPath}}

Create a comprehensive documentation report with the following sections:
1. CLAIM SUMMARY
2. INCIDENT DETAILS
3. RISK ASSESSMENT
4. PROCESSING DECISION
5. RECOMMENDATIONS
{{- end}}
`))

// Prompt renders the instruction text sent to a language model for the prompt's task.
func Prompt(p PromptContext) (string, error) {
	var buf bytes.Buffer

	if err := prompts.ExecuteTemplate(&buf, string(p.Task), p); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", p.Task, err)
	}

	return buf.String(), nil
}
