package app

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"competition-service/internal/domain"
)

// content is the rendered copy for one notification event.
type content struct {
	Title   string
	Message string
	Subject string
	HTML    string
	Text    string
}

type messageData struct {
	FirstName string
	Title     string
	StartDate string
	TimeLimit int
	Rank      int
	Score     float64
	Points    int
	TopThree  bool
}

var (
	textTemplates = template.Must(template.New("text").Parse(`
{{define "advance_notice"}}Hi {{.FirstName}},

{{.Title}} opens on {{.StartDate}}. You will have {{.TimeLimit}} minutes once you start.{{end}}
{{define "day_of"}}Hi {{.FirstName}},

{{.Title}} is live now. You have {{.TimeLimit}} minutes from the moment you start.{{end}}
{{define "results"}}Hi {{.FirstName}},

{{if .TopThree}}Congratulations! You finished #{{.Rank}} in {{.Title}} with {{printf "%.1f" .Score}}%.{{else}}Results for {{.Title}} are in: you finished #{{.Rank}} with {{printf "%.1f" .Score}}%.{{end}} You earned {{.Points}} points.{{end}}
`))

	htmlTemplates = htmltemplate.Must(htmltemplate.New("html").Parse(`
{{define "advance_notice"}}<p>Hi {{.FirstName}},</p><p><strong>{{.Title}}</strong> opens on {{.StartDate}}. You will have {{.TimeLimit}} minutes once you start.</p>{{end}}
{{define "day_of"}}<p>Hi {{.FirstName}},</p><p><strong>{{.Title}}</strong> is live now. You have {{.TimeLimit}} minutes from the moment you start.</p>{{end}}
{{define "results"}}<p>Hi {{.FirstName}},</p>{{if .TopThree}}<p>Congratulations! You finished <strong>#{{.Rank}}</strong> in {{.Title}} with {{printf "%.1f" .Score}}%.</p>{{else}}<p>Results for {{.Title}} are in: you finished #{{.Rank}} with {{printf "%.1f" .Score}}%.</p>{{end}}<p>You earned {{.Points}} points.</p>{{end}}
`))
)

func renderContent(typ domain.NotificationType, c domain.Competition, u domain.User, a *domain.Attempt) (content, error) {
	data := messageData{
		FirstName: u.FirstName,
		Title:     c.Title,
		StartDate: c.StartDate.UTC().Format(time.RFC1123),
		TimeLimit: c.TimeLimitMinutes,
	}
	if data.FirstName == "" {
		data.FirstName = "there"
	}

	var out content
	switch typ {
	case domain.NotificationAdvanceNotice:
		out.Title = "Monthly competition starts soon"
		out.Subject = fmt.Sprintf("%s starts on %s", c.Title, c.StartDate.UTC().Format("Jan 2"))
		out.Message = fmt.Sprintf("%s opens on %s.", c.Title, data.StartDate)
	case domain.NotificationDayOf:
		out.Title = "Monthly competition is live"
		out.Subject = fmt.Sprintf("%s is live now", c.Title)
		out.Message = fmt.Sprintf("%s is live now. You have %d minutes once you start.", c.Title, c.TimeLimitMinutes)
	case domain.NotificationResults:
		if a == nil || a.Rank == nil || a.Score == nil {
			return content{}, fmt.Errorf("results content needs a ranked attempt")
		}
		data.Rank = *a.Rank
		data.Score = *a.Score
		data.Points = a.PointsEarned
		data.TopThree = data.Rank <= 3
		if data.TopThree {
			out.Title = "You placed in the top 3!"
			out.Subject = fmt.Sprintf("You finished #%d in %s", data.Rank, c.Title)
			out.Message = fmt.Sprintf("Congratulations! You finished #%d with %.1f%% and earned %d points.", data.Rank, data.Score, data.Points)
		} else {
			out.Title = "Competition results are in"
			out.Subject = fmt.Sprintf("Your %s results", c.Title)
			out.Message = fmt.Sprintf("You finished #%d with %.1f%% and earned %d points.", data.Rank, data.Score, data.Points)
		}
	default:
		return content{}, fmt.Errorf("unknown notification type %q", typ)
	}

	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, string(typ), data); err != nil {
		return content{}, fmt.Errorf("render text %s: %w", typ, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, string(typ), data); err != nil {
		return content{}, fmt.Errorf("render html %s: %w", typ, err)
	}
	out.Text = text.String()
	out.HTML = html.String()
	return out, nil
}
