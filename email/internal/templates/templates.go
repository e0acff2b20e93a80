package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed *.html
var files embed.FS

const (
	Welcome        = "welcome"
	RoleUpdated    = "role_updated"
	AccountDeleted = "account_deleted"
	URLCreated     = "url_created"
)

// Data - все поля, которые могут понадобиться шаблонам.
type Data struct {
	AppName     string
	Name        string
	OldRole     string
	NewRole     string
	ShortURL    string
	OriginalURL string
	ExpiresAt   time.Time
}

// Renderer держит по одному набору (layout + письмо) на каждый шаблон:
// у всех писем одинаковые имена блоков subject и content.
type Renderer struct {
	sets map[string]*template.Template
}

func New() (*Renderer, error) {
	r := &Renderer{sets: make(map[string]*template.Template)}
	for _, name := range []string{Welcome, RoleUpdated, AccountDeleted, URLCreated} {
		set, err := template.ParseFS(files, "layout.html", name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.sets[name] = set
	}
	return r, nil
}

// Render возвращает тему и HTML письма.
func (r *Renderer) Render(name string, data Data) (string, string, error) {
	set, ok := r.sets[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}

	var subject, body bytes.Buffer
	if err := set.ExecuteTemplate(&subject, "subject", data); err != nil {
		return "", "", fmt.Errorf("failed to render subject of %s: %w", name, err)
	}
	if err := set.ExecuteTemplate(&body, "layout", data); err != nil {
		return "", "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}
