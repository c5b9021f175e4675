package rebuild

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"
	"golang.org/x/text/unicode/norm"
)

// WatchRule binds a source tree and filename filter to an output tree and
// the compiler that produces it. Rules are fixed for the life of the process.
type WatchRule struct {
	Name      string   // Label used in logs; defaults to Command
	SourceDir string   // Directory tree to watch
	Glob      string   // Glob filter, e.g. "*.haml" or "pages/**/*.haml"
	Regex     string   // Regular expression filter, e.g. `\.haml$`
	OutputDir string   // Directory receiving compiled files
	OutputExt string   // Extension of compiled files, e.g. ".html"
	Command   string   // Compiler executable, looked up on PATH
	Args      []string // Extra compiler arguments placed before input and output
}

// Label returns the name used for the rule in logs and errors.
func (r WatchRule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Command
}

// Filter returns the configured filter in display form.
func (r WatchRule) Filter() string {
	if r.Regex != "" {
		return "/" + r.Regex + "/"
	}
	return r.Glob
}

// CompiledRule is a validated WatchRule with its filter compiled.
type CompiledRule struct {
	WatchRule

	source    string // cleaned SourceDir
	absSource string
	glob      glob.Glob
	regex     *regexp.Regexp
	fullPath  bool // glob is matched against the relative path, not the base name
}

// Compile validates the rule and prepares its filter for matching.
func (r WatchRule) Compile() (*CompiledRule, error) {
	var errs error
	if r.SourceDir == "" {
		errs = multierr.Append(errs, errors.New("source directory is required"))
	}
	if r.OutputDir == "" {
		errs = multierr.Append(errs, errors.New("output directory is required"))
	}
	if r.Command == "" {
		errs = multierr.Append(errs, errors.New("compiler command is required"))
	}
	if r.Glob != "" && r.Regex != "" {
		errs = multierr.Append(errs, errors.New("glob and regex filters are mutually exclusive"))
	}
	if r.Glob == "" && r.Regex == "" {
		errs = multierr.Append(errs, errors.New("a glob or regex filter is required"))
	}
	if errs != nil {
		return nil, errs
	}

	if r.OutputExt != "" && !strings.HasPrefix(r.OutputExt, ".") {
		r.OutputExt = "." + r.OutputExt
	}

	c := &CompiledRule{
		WatchRule: r,
		source:    filepath.Clean(r.SourceDir),
	}
	abs, err := filepath.Abs(c.source)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", r.SourceDir, err)
	}
	c.absSource = abs

	if r.Regex != "" {
		re, err := regexp.Compile(norm.NFC.String(r.Regex))
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", r.Regex, err)
		}
		c.regex = re
		return c, nil
	}

	pattern := norm.NFC.String(filepath.ToSlash(r.Glob))
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", r.Glob, err)
	}
	c.glob = g
	c.fullPath = strings.Contains(pattern, "/")
	return c, nil
}

// CompileRules compiles every rule, reporting all invalid rules at once.
func CompileRules(rules []WatchRule) ([]*CompiledRule, error) {
	if len(rules) == 0 {
		return nil, &StartupError{Err: errors.New("no watch rules configured")}
	}

	compiled := make([]*CompiledRule, 0, len(rules))
	var errs error
	for i, r := range rules {
		c, err := r.Compile()
		if err != nil {
			label := r.Label()
			if label == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			errs = multierr.Append(errs, &StartupError{Rule: label, Err: err})
			continue
		}
		compiled = append(compiled, c)
	}
	if errs != nil {
		return nil, errs
	}
	return compiled, nil
}

// Contains reports whether p lies strictly under the rule's source directory
// and returns its slash-separated path relative to it.
func (c *CompiledRule) Contains(p string) (string, bool) {
	base := c.source
	target := filepath.Clean(p)
	if filepath.IsAbs(target) != filepath.IsAbs(base) {
		abs, err := filepath.Abs(target)
		if err != nil {
			return "", false
		}
		base, target = c.absSource, abs
	}

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Match reports whether p is under the source directory and passes the filter.
func (c *CompiledRule) Match(p string) bool {
	rel, ok := c.Contains(p)
	if !ok {
		return false
	}
	return c.matchRel(rel)
}

func (c *CompiledRule) matchRel(rel string) bool {
	name := norm.NFC.String(rel)
	if c.regex != nil {
		return c.regex.MatchString(name)
	}
	if c.fullPath {
		return c.glob.Match(name)
	}
	return c.glob.Match(path.Base(name))
}

// OutputPathFor maps a source path to its compiled counterpart:
// OutputDir + relative path without extension + OutputExt.
func (c *CompiledRule) OutputPathFor(p string) (string, error) {
	rel, ok := c.Contains(p)
	if !ok {
		return "", &MalformedPathError{Path: p, Reason: "not under " + c.SourceDir}
	}

	stem := strings.TrimSuffix(rel, path.Ext(rel))
	if stem == "" || strings.HasSuffix(stem, "/") {
		return "", &MalformedPathError{Path: p, Reason: "empty file name after stripping extension"}
	}
	return filepath.Join(c.OutputDir, filepath.FromSlash(stem)+c.OutputExt), nil
}

// Invocation builds the compiler call for source and output.
func (c *CompiledRule) Invocation(source, output string) Invocation {
	return Invocation{
		Rule:    c.Label(),
		Command: c.Command,
		Args:    c.Args,
		Source:  source,
		Output:  output,
	}
}
