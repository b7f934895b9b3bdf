package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/client"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Error    string // empty when passed
}

// Result records the outcome of an entire scenario.
type Result struct {
	ScenarioName string
	Passed       bool
	Steps        []StepResult
	Duration     time.Duration
}

// Runner executes scenarios against one clubdesk server.
type Runner struct {
	baseURL string
	tokens  map[string]string
	http    *http.Client
	admin   *client.Client
}

// NewRunner creates a Runner. tokens maps AsStaff and AsAdmin to bearer
// tokens; setup steps use the admin token.
func NewRunner(baseURL string, tokens map[string]string) *Runner {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Runner{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
		admin:   client.New(baseURL, tokens[AsAdmin]),
	}
}

// Run executes a single scenario and returns its result. Steps run in order
// and a failing step does not stop the ones after it.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	start := time.Now()
	result := &Result{ScenarioName: s.Name, Passed: true}

	if err := r.runSetup(ctx, &s.Setup); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	now, err := r.admin.Time(ctx)
	if err != nil {
		return nil, fmt.Errorf("read server time: %w", err)
	}

	vars := make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		vars[k] = v
	}
	for _, step := range s.Steps {
		sr := r.runStep(ctx, &step, vars, now)
		result.Steps = append(result.Steps, sr)
		if !sr.Passed {
			result.Passed = false
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) runSetup(ctx context.Context, setup *Setup) error {
	if setup.Reset {
		if err := r.admin.Reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	if setup.Seed != "" {
		data, err := os.ReadFile(setup.Seed)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		if err := r.admin.ImportState(ctx, data); err != nil {
			return fmt.Errorf("seed %s: %w", setup.Seed, err)
		}
	}
	if setup.Clock != "" {
		d, err := time.ParseDuration(setup.Clock)
		if err != nil {
			return fmt.Errorf("clock: %w", err)
		}
		if _, err := r.admin.AdvanceTime(ctx, d); err != nil {
			return fmt.Errorf("clock: %w", err)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step *Step, vars map[string]string, now time.Time) StepResult {
	start := time.Now()
	sr := StepResult{Name: step.Name}
	fail := func(format string, args ...any) StepResult {
		sr.Error = fmt.Sprintf(format, args...)
		sr.Duration = time.Since(start)
		return sr
	}

	path, err := Expand(step.Request.Path, vars, now)
	if err != nil {
		return fail("template expansion: %v", err)
	}
	var body io.Reader
	if step.Request.Body != nil {
		raw, err := json.Marshal(step.Request.Body)
		if err != nil {
			return fail("encoding body: %v", err)
		}
		expanded, err := Expand(string(raw), vars, now)
		if err != nil {
			return fail("template expansion in body: %v", err)
		}
		body = strings.NewReader(expanded)
	}

	req, err := http.NewRequestWithContext(ctx, step.Request.Method, r.baseURL+path, body)
	if err != nil {
		return fail("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	as := step.As
	if as == "" {
		as = AsStaff
	}
	if tok := r.tokens[as]; tok != "" && as != AsPublic {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range step.Request.Headers {
		if v, err = Expand(v, vars, now); err != nil {
			return fail("template expansion in header %s: %v", k, err)
		}
		req.Header.Set(k, v)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail("reading response body: %v", err)
	}

	if step.Assert.Status != 0 && resp.StatusCode != step.Assert.Status {
		return fail("expected status %d, got %d: %s", step.Assert.Status, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if step.Assert.BodyContains != "" && !strings.Contains(string(respBody), step.Assert.BodyContains) {
		return fail("body does not contain %q", step.Assert.BodyContains)
	}

	if len(step.Assert.Body) > 0 || len(step.Capture) > 0 {
		var doc any
		if err := json.Unmarshal(respBody, &doc); err != nil {
			return fail("body is not valid JSON: %v", err)
		}
		for path, want := range step.Assert.Body {
			got, ok := Lookup(doc, path)
			if !ok {
				return fail("body: %s not found in response", path)
			}
			expected := text(want)
			if expected, err = Expand(expected, vars, now); err != nil {
				return fail("template expansion in assert %s: %v", path, err)
			}
			if text(got) != expected {
				return fail("body: %s expected %q, got %q", path, expected, text(got))
			}
		}
		for name, path := range step.Capture {
			got, ok := Lookup(doc, path)
			if !ok {
				return fail("capture %s: %s not found in response", name, path)
			}
			vars[name] = text(got)
		}
	}

	sr.Passed = true
	sr.Duration = time.Since(start)
	return sr
}
