package mailer

import (
	"bytes"
	"html/template"
)

var deliveryTemplate = template.Must(template.New("delivery").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Thanks for your purchase{{if .CustomerName}}, {{.CustomerName}}{{end}}!</h2>
  <p>Your <strong>{{.Package}}</strong> template package is ready.</p>

  <h3>License key</h3>
  <p><code>{{.LicenseKey}}</code></p>
  <p>Keep this key for support requests. Your support tier is <strong>{{.SupportTier}}</strong>.</p>

  <h3>Download</h3>
  <p><a href="{{.DownloadURL}}">Download your template</a></p>
  {{if .ExpiresAt}}
  <p>Download access expires on {{.ExpiresAt.Format "January 2, 2006"}}.</p>
  {{else}}
  <p>Your download access does not expire.</p>
  {{end}}

  {{if .AccessGranted}}
  <h3>Repository access</h3>
  <p>You have been invited to the <code>{{.GitHubTeam}}</code> team. Accept the
  invitation from your GitHub notifications to clone the private repositories.</p>
  {{else if .GitHubTeam}}
  <h3>Repository access</h3>
  <p>We could not complete your repository invitation automatically. Reply to
  this email with your GitHub username and we will sort it out.</p>
  {{end}}

  <p style="color: #888; font-size: 12px;">Template Store</p>
</body>
</html>`))

func renderBody(d Delivery) (string, error) {
	var buf bytes.Buffer
	if err := deliveryTemplate.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}
