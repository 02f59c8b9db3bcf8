package graph

import (
	"embed"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templates embed.FS

var graphiqlTmpl = template.Must(template.ParseFS(templates, "templates/graphiql.html"))

// GraphiQLTitle is the page title of the explorer.
const GraphiQLTitle = "AI Chat API"

type graphiqlPage struct {
	Title        string
	Endpoint     string
	DefaultQuery string
}

// RenderGraphiQL writes the GraphiQL explorer page. endpoint is the path
// the page sends operations to.
func RenderGraphiQL(w io.Writer, endpoint string) error {
	return graphiqlTmpl.Execute(w, graphiqlPage{
		Title:        GraphiQLTitle,
		Endpoint:     endpoint,
		DefaultQuery: defaultDocument,
	})
}
