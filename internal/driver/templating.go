package driver

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine parses and executes the endpoint and payload templates.
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is passed to every template execution.
type TemplateData struct {
	UserID string
	UUID   string
	Region string
	VU     int
	Iter   int
}

// NewTemplateEngine initializes the engine and its functions
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
		"uuid":         e.randomUUID,
	}

	return e
}

// Preprocess converts the short variables ({{userID}}, {{vu}}, ...) to field access.
func (e *TemplateEngine) Preprocess(input string) string {
	return strings.NewReplacer(
		"{{userID}}", "{{.UserID}}",
		"{{userId}}", "{{.UserID}}",
		"{{requestID}}", "{{.UUID}}",
		"{{region}}", "{{.Region}}",
		"{{vu}}", "{{.VU}}",
		"{{iter}}", "{{.Iter}}",
	).Replace(input)
}

// Parse creates a new template with the engine's functions
func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcMap).Parse(e.Preprocess(text))
}

// Execute runs the template with data
func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.IntN(max-min) + min
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.New().String()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.IntN(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()

	if !ok {
		var err error
		if lines, err = e.loadLines(filename); err != nil {
			return "", err
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.IntN(len(lines))], nil
}

func (e *TemplateEngine) loadLines(filename string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lines, ok := e.fileCache[filename]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s': %w", filename, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	var loaded []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			loaded = append(loaded, line)
		}
	}

	e.fileCache[filename] = loaded
	return loaded, nil
}

// templates holds everything a run renders, parsed once up front so that a bad
// template is a configuration error rather than a failed request.
type templates struct {
	engine    *TemplateEngine
	endpoints map[string]*template.Template
	payload   map[string]*template.Template
}

func compileTemplates(e *TemplateEngine, target Target, payload PayloadTemplates) (*templates, error) {
	t := &templates{
		engine:    e,
		endpoints: make(map[string]*template.Template, len(target.Endpoints)),
		payload:   make(map[string]*template.Template),
	}

	sample := TemplateData{UserID: "1", UUID: uuid.Nil.String(), Region: target.Region}

	for name, text := range target.Endpoints {
		tpl, err := e.Parse(name, text)
		if err == nil {
			_, err = e.Execute(tpl, sample)
		}
		if err != nil {
			return nil, invalid("endpoint %q: %v", name, err)
		}
		t.endpoints[name] = tpl
	}

	fields := map[string]string{
		"name":     payload.UserName,
		"email":    payload.UserEmail,
		"location": payload.UserLocation,
		"title":    payload.PostTitle,
		"content":  payload.PostContent,
	}
	for field, text := range fields {
		tpl, err := e.Parse(field, text)
		if err == nil {
			_, err = e.Execute(tpl, sample)
		}
		if err != nil {
			return nil, invalid("payload field %q: %v", field, err)
		}
		t.payload[field] = tpl
	}

	return t, nil
}

func (t *templates) endpoint(name string, data TemplateData) (string, error) {
	tpl, ok := t.endpoints[name]
	if !ok {
		return "", fmt.Errorf("endpoint %q is not configured", name)
	}
	return t.engine.Execute(tpl, data)
}

func (t *templates) field(name string, data TemplateData) (string, error) {
	return t.engine.Execute(t.payload[name], data)
}
