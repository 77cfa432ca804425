package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
)

const emailLayout = `
{{define "layout_start"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #0f172a; padding: 24px; border-radius: 10px 10px 0 0; text-align: center;">
        <h1 style="color: white; margin: 0; font-size: 20px;">Threatwatch</h1>
    </div>
    <div style="background: #f9f9f9; padding: 30px; border-radius: 0 0 10px 10px; border: 1px solid #e0e0e0; border-top: none;">
{{end}}
{{define "layout_end"}}
        <div style="text-align: center; margin: 30px 0;">
            <a href="{{.DashboardURL}}" style="background: #0f172a; color: white; padding: 14px 28px; text-decoration: none; border-radius: 5px; font-weight: bold; display: inline-block;">{{.Button}}</a>
        </div>
        <hr style="border: none; border-top: 1px solid #e0e0e0; margin: 20px 0;">
        <p style="color: #999; font-size: 12px;">You receive this email because alerts are enabled for this project.</p>
    </div>
</body>
</html>
{{end}}

{{define "score_drop"}}{{template "layout_start" .}}
        <h2 style="margin-top: 0;">Security score dropped</h2>
        <p>Your project <strong>{{.ProjectName}}</strong> dropped from <strong>{{.PreviousScore}}</strong> to <strong style="color: #EF4444;">{{.CurrentScore}}</strong> ({{.Drop}} point decrease).</p>
{{template "layout_end" .}}{{end}}

{{define "new_critical"}}{{template "layout_start" .}}
        <h2 style="margin-top: 0;">New critical findings detected</h2>
        <p>Your project <strong>{{.ProjectName}}</strong> has <strong style="color: #EF4444;">{{.CriticalCount}} critical</strong> security {{if eq .CriticalCount 1}}finding{{else}}findings{{end}} that need immediate attention, {{.NewCount}} of them new since the previous scan. Current score: {{.CurrentScore}}.</p>
{{template "layout_end" .}}{{end}}

{{define "score_below"}}{{template "layout_start" .}}
        <h2 style="margin-top: 0;">Security score below threshold</h2>
        <p>Your project <strong>{{.ProjectName}}</strong> scored <strong style="color: #EF4444;">{{.CurrentScore}}</strong>, below your alert threshold of <strong>{{.Threshold}}</strong>.</p>
{{template "layout_end" .}}{{end}}

{{define "threat_alert"}}{{template "layout_start" .}}
        <h2 style="margin-top: 0; color: {{.HeaderColor}};">Live threats detected</h2>
        <p>Your project <strong>{{.ProjectName}}</strong> recorded <strong>{{.EventCount}}</strong> threat {{if eq .EventCount 1}}event{{else}}events{{end}}.</p>
        <table role="presentation" width="100%" cellpadding="8" cellspacing="0" style="margin-bottom: 16px; text-align: center;">
            <tr>
                <td><strong style="color: #EF4444;">{{.CriticalCount}}</strong><br>Critical</td>
                <td><strong style="color: #F97316;">{{.HighCount}}</strong><br>High</td>
                <td><strong style="color: #EAB308;">{{.MediumCount}}</strong><br>Medium</td>
            </tr>
        </table>
        <p>Top attack type: <strong>{{.TopAttackType}}</strong><br>Unique source IPs: <strong>{{.UniqueIPs}}</strong></p>
{{template "layout_end" .}}{{end}}
`

const emailText = `
{{define "score_drop"}}Security score dropped

Your project {{.ProjectName}} dropped from {{.PreviousScore}} to {{.CurrentScore}} ({{.Drop}} point decrease).

{{.Button}}: {{.DashboardURL}}
{{end}}
{{define "new_critical"}}New critical findings detected

Your project {{.ProjectName}} has {{.CriticalCount}} critical security {{if eq .CriticalCount 1}}finding{{else}}findings{{end}} that need immediate attention, {{.NewCount}} of them new since the previous scan. Current score: {{.CurrentScore}}.

{{.Button}}: {{.DashboardURL}}
{{end}}
{{define "score_below"}}Security score below threshold

Your project {{.ProjectName}} scored {{.CurrentScore}}, below your alert threshold of {{.Threshold}}.

{{.Button}}: {{.DashboardURL}}
{{end}}
{{define "threat_alert"}}Live threats detected

Your project {{.ProjectName}} recorded {{.EventCount}} threat {{if eq .EventCount 1}}event{{else}}events{{end}}.

Critical: {{.CriticalCount}}
High: {{.HighCount}}
Medium: {{.MediumCount}}
Top attack type: {{.TopAttackType}}
Unique source IPs: {{.UniqueIPs}}

{{.Button}}: {{.DashboardURL}}
{{end}}
`

var (
	htmlEmails = htmltemplate.Must(htmltemplate.New("email").Parse(emailLayout))
	textEmails = texttemplate.Must(texttemplate.New("email").Parse(emailText))
)

// RenderedEmail is a subject with matching HTML and text bodies.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

type emailData struct {
	Subject      string
	Button       string
	DashboardURL string
	ProjectName  string

	PreviousScore int
	CurrentScore  int
	Drop          int
	CriticalCount int
	NewCount      int
	Threshold     string

	EventCount    int64
	HighCount     int64
	MediumCount   int64
	TopAttackType string
	UniqueIPs     int64
	HeaderColor   string
}

func renderEmail(name string, data emailData) (RenderedEmail, error) {
	var html, text bytes.Buffer
	if err := htmlEmails.ExecuteTemplate(&html, name, data); err != nil {
		return RenderedEmail{}, fmt.Errorf("failed to execute %s html template: %w", name, err)
	}
	if err := textEmails.ExecuteTemplate(&text, name, data); err != nil {
		return RenderedEmail{}, fmt.Errorf("failed to execute %s text template: %w", name, err)
	}
	return RenderedEmail{
		Subject: data.Subject,
		HTML:    strings.TrimSpace(html.String()),
		Text:    strings.TrimSpace(text.String()),
	}, nil
}

func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func scoreDropEmail(projectName string, previous, current int, dashboardURL string) (RenderedEmail, error) {
	drop := previous - current
	return renderEmail("score_drop", emailData{
		Subject:       fmt.Sprintf("Score drop alert: %s (-%d points)", projectName, drop),
		Button:        "View Dashboard",
		DashboardURL:  dashboardURL,
		ProjectName:   projectName,
		PreviousScore: previous,
		CurrentScore:  current,
		Drop:          drop,
	})
}

func newCriticalEmail(projectName string, newCount, criticalCount, current int, dashboardURL string) (RenderedEmail, error) {
	return renderEmail("new_critical", emailData{
		Subject:       fmt.Sprintf("Critical findings: %s (%d new)", projectName, newCount),
		Button:        "Review Findings",
		DashboardURL:  dashboardURL,
		ProjectName:   projectName,
		CriticalCount: criticalCount,
		NewCount:      newCount,
		CurrentScore:  current,
	})
}

func scoreBelowEmail(projectName string, current int, threshold float64, dashboardURL string) (RenderedEmail, error) {
	th := formatThreshold(threshold)
	return renderEmail("score_below", emailData{
		Subject:      fmt.Sprintf("Score below threshold: %s (%d/%s)", projectName, current, th),
		Button:       "View Dashboard",
		DashboardURL: dashboardURL,
		ProjectName:  projectName,
		CurrentScore: current,
		Threshold:    th,
	})
}

func threatAlertEmail(projectName string, stats ThreatStats, dashboardURL string) (RenderedEmail, error) {
	color := "#EAB308"
	switch {
	case stats.CriticalCount > 0:
		color = "#EF4444"
	case stats.HighCount > 0:
		color = "#F97316"
	}
	top := stats.TopAttackType
	if top == "" {
		top = "N/A"
	}
	return renderEmail("threat_alert", emailData{
		Subject:       fmt.Sprintf("Threat alert: %s (%d events detected)", projectName, stats.TotalEvents),
		Button:        "View Threats",
		DashboardURL:  dashboardURL,
		ProjectName:   projectName,
		EventCount:    stats.TotalEvents,
		CriticalCount: int(stats.CriticalCount),
		HighCount:     stats.HighCount,
		MediumCount:   stats.MediumCount,
		TopAttackType: strings.ToUpper(top),
		UniqueIPs:     stats.UniqueIPs,
		HeaderColor:   color,
	})
}

// unsubscribeHeaders is attached to every alert email.
func unsubscribeHeaders(link string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      link,
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}
