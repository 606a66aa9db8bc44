package notify

import (
	"bytes"
	"html/template"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 600px; margin: 0 auto;">
  <h1 style="font-size: 20px;">Your AI visibility report is ready</h1>
  <p>Hi {{.Name}},</p>
  <p>We finished analyzing <strong>{{.URL}}</strong>. Here is the headline:</p>
  <div style="border: 1px solid #ddd; border-radius: 8px; padding: 16px; margin: 16px 0;">
    <p style="font-size: 32px; margin: 0;"><strong>{{.Score}}</strong> / 100 &middot; Grade {{.Grade}}</p>
    <p style="margin: 8px 0 0;">{{.Summary}}</p>
  </div>
  {{if .TopActions}}
  <h2 style="font-size: 16px;">Where to start</h2>
  <ol>
    {{range .TopActions}}<li>{{.}}</li>
    {{end}}
  </ol>
  {{end}}
  <p>Reply to this email if you would like help putting these changes in place.</p>
</body>
</html>`))

var leadAlertTemplate = template.Must(template.New("lead").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a;">
  <h1 style="font-size: 18px;">New assessment lead</h1>
  <table cellpadding="4">
    <tr><td><strong>Name</strong></td><td>{{.Name}}</td></tr>
    <tr><td><strong>Email</strong></td><td>{{.Email}}</td></tr>
    <tr><td><strong>Site</strong></td><td>{{.URL}}</td></tr>
    <tr><td><strong>Score</strong></td><td>{{.Score}} (grade {{.Grade}})</td></tr>
    <tr><td><strong>Assessment</strong></td><td>{{.AssessmentID}}</td></tr>
  </table>
  <p>{{.Summary}}</p>
</body>
</html>`))

func renderReport(a Completed) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, a); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderLeadAlert(a Completed) (string, error) {
	var buf bytes.Buffer
	if err := leadAlertTemplate.Execute(&buf, a); err != nil {
		return "", err
	}
	return buf.String(), nil
}
