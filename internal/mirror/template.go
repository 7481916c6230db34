package mirror

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"
)

//go:embed templates/page.html
var defaultPageTemplate string

var treeTemplate = template.Must(template.New("tree").Parse(
	`{{define "list"}}<ul>{{range .}}<li><a href="{{.Href}}">{{.Title}}</a>{{if .Children}}{{template "list" .Children}}{{end}}</li>{{end}}</ul>{{end}}` +
		`{{template "list" .}}`))

const forwardMessage = `<a href="{{.Href}}">If you are not automatically forwarded to {{.Title}}, please click here!</a>`

var forwardTemplate = template.Must(template.New("forward").Parse(forwardMessage))

// pageData is what a page template renders. Custom templates may use any
// of these fields.
type pageData struct {
	Title       string
	ID          string
	SpaceKey    string
	SpaceName   string
	IndexHref   string
	Body        template.HTML
	Attachments []attachmentLink
	ExtraHead   []template.HTML
}

type attachmentLink struct {
	Name string
	Href string
}

type treeItem struct {
	Title    string
	Href     string
	Children []treeItem
}

func loadPageTemplate(file string) (*template.Template, error) {
	text := defaultPageTemplate
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", file, err)
		}
		text = string(data)
	}
	t, err := template.New("page").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}
	return t, nil
}

func renderHTML(t *template.Template, data interface{}) (template.HTML, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
