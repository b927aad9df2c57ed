// Package params discovers the runtime inputs of a notebook by static scan of
// its code cells. Two declaration styles are recognized:
//
//	limit = int(os.getenv("LIMIT", "100"))  # rows per page
//	period_days = 10  # @param {type:"slider", min:0, max:30, step:1}
//
// The scan never executes code and never fails because of a single bad line.
package params

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crucial707/juport/internal/ipynb"
	"github.com/crucial707/juport/internal/models"
)

var (
	reEnvCall = regexp.MustCompile(`os\.(?:getenv|environ\.get)\(\s*(?:'([^']+)'|"([^"]+)")\s*(?:,\s*('[^']*'|"[^"]*"|[^\s,)]+))?\s*\)`)
	reAssign  = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*=([^=].*)$`)

	reCommentDate  = regexp.MustCompile(`(?i)\bdate\b`)
	reCommentEmail = regexp.MustCompile(`(?i)\be-?mail\b`)
	reCommentURL   = regexp.MustCompile(`(?i)\b(url|uri|endpoint|link)\b`)
)

const marker = "@param"

// Diagnostic describes a declaration that was skipped.
type Diagnostic struct {
	Cell int    `json:"cell"`
	Line int    `json:"line"`
	Text string `json:"text"`
	Err  string `json:"error"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("cell %d line %d: %s", d.Cell, d.Line, d.Err)
}

// Report is the result of a scan.
type Report struct {
	Params  []models.Parameter `json:"params"`
	Skipped []Diagnostic       `json:"skipped,omitempty"`
	// Outputs lists the files the notebook source writes. Set by ScanNotebook.
	Outputs []models.ExpectedFile `json:"outputs,omitempty"`
}

// ScanCode scans a block of code.
func ScanCode(code string) Report {
	s := newScanner()
	s.feed(0, code)
	return s.report()
}

// ScanNotebook scans every code cell of a notebook in document order.
func ScanNotebook(data []byte) (Report, error) {
	doc, err := ipynb.Parse(data)
	if err != nil {
		return Report{}, err
	}
	s := newScanner()
	code := doc.Code()
	for i, c := range code {
		s.feed(i, c)
	}
	r := s.report()
	r.Outputs = DetectArtifacts(code...)
	return r, nil
}

type scanner struct {
	order   []string
	seen    map[string]bool
	env     map[string]models.Parameter
	ann     map[string]models.Parameter
	skipped []Diagnostic
}

func newScanner() *scanner {
	return &scanner{
		seen: make(map[string]bool),
		env:  make(map[string]models.Parameter),
		ann:  make(map[string]models.Parameter),
	}
}

func (s *scanner) note(name string) {
	if !s.seen[name] {
		s.seen[name] = true
		s.order = append(s.order, name)
	}
}

func (s *scanner) feed(cell int, code string) {
	lines := strings.Split(code, "\n")
	prevComment := ""
	for i, line := range lines {
		body, comment, hasComment := splitComment(line)

		for _, p := range envDecls(body, comment, prevComment) {
			s.note(p.Name)
			s.env[p.Name] = p
		}

		if hasComment && strings.HasPrefix(comment, marker) {
			p, err := annotationDecl(body, strings.TrimPrefix(comment, marker))
			if err != nil {
				s.skipped = append(s.skipped, Diagnostic{Cell: cell, Line: i + 1, Text: strings.TrimSpace(line), Err: err.Error()})
			} else {
				s.note(p.Name)
				s.ann[p.Name] = p
			}
		}

		prevComment = ""
		if strings.TrimSpace(body) == "" && hasComment && !strings.HasPrefix(comment, marker) {
			prevComment = comment
		}
	}
}

func (s *scanner) report() Report {
	out := make([]models.Parameter, 0, len(s.order))
	for _, name := range s.order {
		if p, ok := s.ann[name]; ok {
			if e, ok := s.env[name]; ok && p.EnvName == "" {
				p.EnvName = e.EnvName
			}
			out = append(out, p)
			continue
		}
		out = append(out, s.env[name])
	}
	return Report{Params: out, Skipped: s.skipped}
}

// envDecls finds environment reads on one line.
func envDecls(body, comment, prevComment string) []models.Parameter {
	matches := reEnvCall.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	assigned := ""
	if m := reAssign.FindStringSubmatch(body); m != nil && len(matches) == 1 {
		assigned = m[1]
	}

	desc := comment
	if strings.HasPrefix(desc, marker) {
		desc = ""
	}
	if desc == "" {
		desc = prevComment
	}

	out := make([]models.Parameter, 0, len(matches))
	for _, m := range matches {
		envName := m[1] + m[2]
		name := envName
		if assigned != "" {
			name = assigned
		}
		p := models.Parameter{
			Name:        name,
			Kind:        models.KindText,
			Default:     "",
			Description: desc,
			Source:      models.SourceEnv,
			EnvName:     envName,
		}
		if m[3] != "" {
			lit, _ := parseLiteral(m[3])
			p.Kind, p.Default = classify(lit)
		}
		applyKeywordHints(&p, desc)
		out = append(out, p)
	}
	return out
}

// applyKeywordHints refines text parameters whose name or comment mentions a
// date, an email address or a URL.
func applyKeywordHints(p *models.Parameter, comment string) {
	if p.Kind != models.KindText {
		return
	}
	tokens := nameTokens(p.Name + "_" + p.EnvName)
	switch {
	case tokens["date"] || reCommentDate.MatchString(comment):
		p.Kind = models.KindDate
	case tokens["email"] || tokens["mail"] || reCommentEmail.MatchString(comment):
		p.Hint = models.HintEmail
	case tokens["url"] || tokens["uri"] || tokens["endpoint"] || tokens["link"] || reCommentURL.MatchString(comment):
		p.Hint = models.HintURL
	}
}

func nameTokens(name string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	}) {
		out[t] = true
	}
	return out
}

// annotationDecl parses `name = value  # @param ...`.
func annotationDecl(body, rest string) (models.Parameter, error) {
	m := reAssign.FindStringSubmatch(body)
	if m == nil {
		return models.Parameter{}, fmt.Errorf("%s marker without assignment", marker)
	}
	name := m[1]
	valueSrc := strings.TrimSpace(m[2])

	a, err := parseAnnotation(rest)
	if err != nil {
		return models.Parameter{}, err
	}

	p := models.Parameter{Name: name, Source: models.SourceAnnotation}
	lit, _ := parseLiteral(valueSrc)
	p.Default = lit.value
	p.Description, _ = a.str("description")
	p.Placeholder, _ = a.str("placeholder")
	p.AllowInput = a.flag("allow-input")
	if envs := reEnvCall.FindStringSubmatch(valueSrc); envs != nil {
		p.EnvName = envs[1] + envs[2]
	}

	typ, hasType := a.str("type")
	typ = strings.ToLower(typ)
	if hasType {
		switch typ {
		case "string", "text":
			typ = models.KindText
		case models.KindNumber, models.KindInteger, models.KindBoolean, models.KindDate, models.KindSlider, models.KindRaw:
		default:
			return models.Parameter{}, fmt.Errorf("unknown parameter type %q", typ)
		}
	}

	switch {
	case a.hasOptions:
		p.Kind = models.KindEnum
		p.Options = make([]any, 0, len(a.options))
		for _, o := range a.options {
			ol, _ := parseLiteral(o)
			if typ == models.KindRaw {
				p.Options = append(p.Options, ol.value)
			} else {
				p.Options = append(p.Options, literalText(ol))
			}
		}
		if typ != models.KindRaw {
			p.Default = literalText(lit)
		}
	case typ == models.KindSlider:
		bounds := models.SliderBounds{}
		if bounds.Min, err = a.number("min", 0); err != nil {
			return models.Parameter{}, err
		}
		if bounds.Max, err = a.number("max", 100); err != nil {
			return models.Parameter{}, err
		}
		if bounds.Step, err = a.number("step", 1); err != nil {
			return models.Parameter{}, err
		}
		if bounds.Max < bounds.Min || bounds.Step <= 0 {
			return models.Parameter{}, fmt.Errorf("invalid slider bounds min=%v max=%v step=%v", bounds.Min, bounds.Max, bounds.Step)
		}
		p.Kind = models.KindSlider
		p.Slider = &bounds
	case typ == models.KindRaw:
		p.Kind = models.KindRaw
		p.Default = valueSrc
	case typ == models.KindText || typ == models.KindDate:
		p.Kind = typ
		p.Default = literalText(lit)
	case hasType:
		p.Kind = typ
	default:
		p.Kind, p.Default = classify(lit)
	}
	return p, nil
}

// literalText renders a literal as the string a dropdown or text widget shows.
func literalText(l literal) string {
	switch v := l.value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}
