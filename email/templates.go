package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"sync"
	texttemplate "text/template"
)

//go:embed templates/*
var templateFS embed.FS

type templateData struct {
	AppName   string
	Title     string
	Name      string
	URL       string
	Label     string
	ExpiresIn string
	Footer    string
	Year      int
}

type templatePair struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

var (
	templatesOnce sync.Once
	templatesErr  error
	templates     map[string]templatePair
)

var subjects = map[string]string{
	"password_reset":     "Reset Your Password - %s",
	"email_verification": "Verify Your Email - %s",
	"welcome":            "Welcome to %s! 🎵",
}

func loadTemplates() error {
	templatesOnce.Do(func() {
		templates = make(map[string]templatePair, len(subjects))
		for kind, subject := range subjects {
			h, err := htmltemplate.ParseFS(templateFS, "templates/layout.html", "templates/"+kind+".html")
			if err != nil {
				templatesErr = fmt.Errorf("parse %s html template: %w", kind, err)
				return
			}
			t, err := texttemplate.ParseFS(templateFS, "templates/"+kind+".txt")
			if err != nil {
				templatesErr = fmt.Errorf("parse %s text template: %w", kind, err)
				return
			}
			templates[kind] = templatePair{subject: subject, html: h, text: t}
		}
	})
	return templatesErr
}

func render(kind string, data templateData) (Message, error) {
	if err := loadTemplates(); err != nil {
		return Message{}, err
	}
	pair, ok := templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", kind)
	}

	var html, text bytes.Buffer
	if err := pair.html.ExecuteTemplate(&html, "layout", data); err != nil {
		return Message{}, err
	}
	if err := pair.text.Execute(&text, data); err != nil {
		return Message{}, err
	}
	return Message{
		Subject: fmt.Sprintf(pair.subject, data.AppName),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
