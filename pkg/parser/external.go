package parser

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/panbanda/embargo/pkg/config"
	"github.com/panbanda/embargo/pkg/models"
)

//go:embed schema/parse_result.schema.json
var parseResultSchema []byte

const schemaURL = "parse_result.schema.json"

// ErrInvalidOutput is returned when an external parser prints something that
// is not a valid ParseResult document.
var ErrInvalidOutput = errors.New("invalid parser output")

// DefaultExternalTimeout bounds a single external parser invocation.
const DefaultExternalTimeout = 30 * time.Second

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(parseResultSchema))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile(schemaURL)
})

// ExternalParser runs a configured command for each file. The command gets
// the file path as its last argument and the content on stdin, and prints a
// ParseResult JSON document on stdout.
type ExternalParser struct {
	language string
	command  string
	args     []string
	timeout  time.Duration
	schema   *jsonschema.Schema
}

// NewExternalParser creates a parser from its configuration.
func NewExternalParser(cfg config.ExternalParserConfig) (*ExternalParser, error) {
	if cfg.Language == "" || cfg.Command == "" {
		return nil, fmt.Errorf("%w: external parser needs a language and a command", config.ErrInvalidConfig)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &ExternalParser{
		language: cfg.Language,
		command:  cfg.Command,
		args:     cfg.Args,
		timeout:  DefaultExternalTimeout,
		schema:   schema,
	}, nil
}

// Language returns the configured language name.
func (p *ExternalParser) Language() string {
	return p.language
}

// Parse runs the command and decodes its output.
func (p *ExternalParser) Parse(path string, content []byte) (*models.ParseResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	args := append(append([]string{}, p.args...), path)
	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Stdin = bytes.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", p.command, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", p.command, err)
	}
	return p.decode(path, stdout.Bytes())
}

// decode validates out against the ParseResult schema and converts it.
// Nodes and call sites without an arity get models.ArityUnknown.
func (p *ExternalParser) decode(path string, out []byte) (*models.ParseResult, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	if err := p.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}

	doc := inst.(map[string]any)
	for _, field := range []string{"nodes", "call_sites"} {
		items, _ := doc[field].([]any)
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				if _, has := m["arity"]; !has {
					m["arity"] = models.ArityUnknown
				}
			}
		}
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var res models.ParseResult
	if err := json.Unmarshal(normalized, &res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}

	if res.Path == "" {
		res.Path = path
	}
	if res.Language == "" {
		res.Language = p.language
	}
	fillKeys(&res)
	return &res, nil
}

// fillKeys gives file-less keys and nodes the result's own path.
func fillKeys(r *models.ParseResult) {
	fix := func(k *models.Key) {
		if k.File == "" {
			k.File = r.Path
		}
	}
	for i := range r.Nodes {
		if r.Nodes[i].File == "" {
			r.Nodes[i].File = r.Path
		}
		if r.Nodes[i].Language == "" {
			r.Nodes[i].Language = r.Language
		}
		if r.Nodes[i].Module == "" {
			r.Nodes[i].Module = r.Module
		}
	}
	for i := range r.Edges {
		fix(&r.Edges[i].Source)
		fix(&r.Edges[i].Target)
	}
	for i := range r.CallSites {
		fix(&r.CallSites[i].Caller)
	}
	for i := range r.Imports {
		fix(&r.Imports[i].Module)
	}
	for i := range r.Exports {
		fix(&r.Exports[i].Node)
	}
}
