// Package bootstrap renders the script a spawned worker runs first.
//
// The template is a static asset. Rendering substitutes the action table,
// the lifecycle event table and the user's worker body; nothing else about
// the runtime is generated.
package bootstrap

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/danmuck/webworker/internal/protocol"
)

//go:embed runtime.js.tmpl
var runtimeTemplate string

var ErrEmptyBody = errors.New("bootstrap: empty worker body")

var tmpl = template.Must(template.New("runtime").Option("missingkey=error").Parse(runtimeTemplate))

// Script is a rendered bootstrap and the object URL it was registered under.
type Script struct {
	URL  string
	Text string
}

type renderData struct {
	ActionData   string
	EventData    string
	MainFunction string
}

// Render substitutes body into the runtime template.
func Render(body string, actions protocol.ActionSet) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	actionData, err := json.Marshal(actions.WithDefaults().Table())
	if err != nil {
		return "", fmt.Errorf("bootstrap: encode actions: %w", err)
	}
	eventData, err := json.Marshal(protocol.LifecycleEvents())
	if err != nil {
		return "", fmt.Errorf("bootstrap: encode events: %w", err)
	}

	var out strings.Builder
	err = tmpl.Execute(&out, renderData{
		ActionData:   string(actionData),
		EventData:    string(eventData),
		MainFunction: body,
	})
	if err != nil {
		return "", fmt.Errorf("bootstrap: render: %w", err)
	}
	return out.String(), nil
}
