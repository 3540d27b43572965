package evidence

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/tracelight-io/tracelight/pkg/canonicalize"
	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// Export renders an already-generated pack in the requested format. The
// pack is verified first; a tampered body fails with an integrity error
// instead of exporting. Exports are presentational only and never feed
// back into the content hash.
func Export(pack *contracts.EvidencePack, format contracts.ExportFormat) ([]byte, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: unknown export format %q", contracts.ErrValidation, format)
	}
	if err := Verify(pack); err != nil {
		return nil, err
	}

	switch format {
	case contracts.ExportJSON:
		return canonicalize.JCS(pack)
	case contracts.ExportHTML:
		var buf bytes.Buffer
		if err := htmlTemplate.Execute(&buf, pack); err != nil {
			return nil, fmt.Errorf("render evidence pack %s: %w", pack.ID, err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: unknown export format %q", contracts.ErrValidation, format)
}

var htmlTemplate = template.Must(template.New("evidence").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Evidence Pack {{.ID}}</title></head>
<body>
<h1>Evidence Pack {{.ID}}</h1>
<p>Decision {{.DecisionID}} · content hash <code>{{.ContentHash}}</code> · generated {{.GeneratedAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}</p>

<h2>Decision</h2>
<table>
<tr><th>Chosen option</th><td>{{.Evidence.Decision.ChosenOptionID}}</td></tr>
<tr><th>Decided by</th><td>{{.Evidence.Decision.DecidedBy}}</td></tr>
{{if .Evidence.Decision.ApprovedBy}}<tr><th>Approved by</th><td>{{.Evidence.Decision.ApprovedBy}}</td></tr>{{end}}
<tr><th>Decided at</th><td>{{.Evidence.Decision.DecidedAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}</td></tr>
<tr><th>Rationale</th><td>{{.Evidence.Decision.Rationale}}</td></tr>
</table>
{{if .Evidence.Decision.Assumptions}}<h3>Assumptions</h3><ul>{{range .Evidence.Decision.Assumptions}}<li>{{.}}</li>{{end}}</ul>{{end}}

<h2>Exception</h2>
<p>{{.Evidence.Exception.Title}} (severity {{.Evidence.Exception.Severity}}, fingerprint <code>{{.Evidence.Exception.Fingerprint}}</code>)</p>
{{if .Evidence.Exception.Context}}<p>{{.Evidence.Exception.Context}}</p>{{end}}
<h3>Options presented</h3>
<table>
<tr><th>Action</th><th>Label</th><th>Reversibility</th><th>Risks</th></tr>
{{range .Evidence.Exception.Options}}<tr><td>{{.ActionType}}</td><td>{{.Label}}</td><td>{{.Reversibility}}</td><td>{{range .RiskAnnotations}}{{.}}; {{end}}</td></tr>
{{end}}</table>

<h2>Evaluation</h2>
<p>Result {{.Evidence.Evaluation.Result}} · input hash <code>{{.Evidence.Evaluation.InputHash}}</code> · evaluated {{.Evidence.Evaluation.EvaluatedAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}</p>
{{if .Evidence.Evaluation.Details.Fired}}<table>
<tr><th>Predicate</th><th>Signal</th><th>Observed</th><th>Threshold</th><th>Severity</th></tr>
{{range .Evidence.Evaluation.Details.Fired}}<tr><td>{{.Predicate}}</td><td>{{.SignalID}}</td><td>{{.Observed}}</td><td>{{.Threshold}}</td><td>{{.Severity}}</td></tr>
{{end}}</table>{{end}}

<h2>Signals</h2>
<table>
<tr><th>ID</th><th>Type</th><th>Source</th><th>Reliability</th><th>Observed at</th></tr>
{{range .Evidence.Signals}}<tr><td>{{.ID}}</td><td>{{.SignalType}}</td><td>{{.Source}}</td><td>{{.Reliability}}</td><td>{{.ObservedAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}</td></tr>
{{end}}</table>

<h2>Policy version</h2>
<p>{{.Evidence.PolicyVersion.ID}} (policy {{.Evidence.PolicyVersion.PolicyID}}, v{{.Evidence.PolicyVersion.VersionNumber}}, {{.Evidence.PolicyVersion.Status}})</p>

<h2>Audit trail</h2>
<table>
<tr><th>Event</th><th>Entity</th><th>Actor</th><th>Occurred at</th></tr>
{{range .Evidence.AuditTrail}}<tr><td>{{.EventType}}</td><td>{{.EntityID}}</td><td>{{.Actor}}</td><td>{{.OccurredAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}</td></tr>
{{end}}</table>
</body>
</html>
`))
