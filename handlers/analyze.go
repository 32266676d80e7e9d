package handlers

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// Finding kinds reported by the analyzer.
const (
	kindSyntaxError    = "syntax_error"
	kindLongFunction   = "long_function"
	kindDeepNesting    = "deep_nesting"
	kindTodoMarker     = "todo_marker"
	kindSuspiciousCall = "suspicious_call"
)

// Structural thresholds.
const (
	maxFunctionLines = 50
	maxNestingDepth  = 4
)

// penalties weight each finding kind when scoring. The score is
// 1 - sum(penalties), clamped to [0, 1] and rounded to two decimals.
var penalties = map[string]float64{
	kindSyntaxError:    0.25,
	kindLongFunction:   0.10,
	kindDeepNesting:    0.10,
	kindTodoMarker:     0.05,
	kindSuspiciousCall: 0.20,
}

// Finding is one issue located in the submitted code.
type Finding struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Line    int    `json:"line"`
}

// Report is the full analysis output for one code submission.
type Report struct {
	Language     string    `json:"language"`
	AnalysisType string    `json:"analysis_type"`
	QualityScore float64   `json:"quality_score"`
	Issues       int       `json:"issues"`
	Findings     []Finding `json:"findings,omitempty"`
	Functions    int       `json:"functions"`
	Lines        int       `json:"lines"`
}

// languageSpec names the grammar and the node types the analyzer looks for.
// Node type names differ per grammar.
type languageSpec struct {
	name      string
	language  *sitter.Language
	functions map[string]bool
	nesting   map[string]bool
	calls     map[string]bool
	comments  map[string]bool
	// suspicious lists callee names the security analysis flags, matched
	// against the full callee text and its last dotted segment.
	suspicious map[string]bool
}

// languages maps the language field of a job request to its spec.
var languages = map[string]*languageSpec{
	"go": {
		name:      "go",
		language:  golang.GetLanguage(),
		functions: set("function_declaration", "method_declaration", "func_literal"),
		nesting: set("if_statement", "for_statement", "expression_switch_statement",
			"type_switch_statement", "select_statement"),
		calls:      set("call_expression"),
		comments:   set("comment"),
		suspicious: set("exec.Command", "exec.CommandContext", "syscall.Exec", "os.RemoveAll"),
	},
	"python": {
		name:      "python",
		language:  python.GetLanguage(),
		functions: set("function_definition"),
		nesting: set("if_statement", "for_statement", "while_statement",
			"with_statement", "try_statement", "match_statement"),
		calls:    set("call"),
		comments: set("comment"),
		suspicious: set("eval", "exec", "compile", "__import__",
			"os.system", "subprocess.run", "subprocess.call", "subprocess.Popen",
			"pickle.loads"),
	},
	"javascript": {
		name:     "javascript",
		language: javascript.GetLanguage(),
		functions: set("function_declaration", "function_expression", "function",
			"arrow_function", "method_definition", "generator_function_declaration"),
		nesting: set("if_statement", "for_statement", "for_in_statement",
			"while_statement", "do_statement", "switch_statement", "try_statement"),
		calls:      set("call_expression"),
		comments:   set("comment"),
		suspicious: set("eval", "Function", "execSync", "child_process.exec", "child_process.execSync"),
	},
}

func set(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// analyzeCode parses the content with the language's grammar and walks the
// tree for findings. Parsers are not safe for concurrent use, so each call
// builds its own.
func analyzeCode(ctx context.Context, spec *languageSpec, content []byte, security bool) (*Report, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(spec.language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", spec.name, err)
	}
	defer tree.Close()

	a := &analysis{spec: spec, content: content, security: security}
	a.walk(tree.RootNode())

	return &Report{
		Language:     spec.name,
		QualityScore: scoreOf(a.findings),
		Issues:       len(a.findings),
		Findings:     a.findings,
		Functions:    a.functions,
		Lines:        bytes.Count(content, []byte("\n")) + 1,
	}, nil
}

func scoreOf(findings []Finding) float64 {
	total := 0.0
	for _, f := range findings {
		total += penalties[f.Kind]
	}
	score := 1 - total
	if score < 0 {
		score = 0
	}
	return math.Round(score*100) / 100
}

// analysis accumulates findings over one tree walk.
type analysis struct {
	spec     *languageSpec
	content  []byte
	security bool

	findings  []Finding
	functions int
}

func (a *analysis) walk(node *sitter.Node) {
	switch nodeType := node.Type(); {
	case nodeType == "ERROR":
		a.add(kindSyntaxError, "unparseable region", node)
	case a.spec.functions[nodeType]:
		a.measureFunction(node)
	case a.spec.comments[nodeType]:
		a.checkComment(node)
	case a.spec.calls[nodeType]:
		if a.security {
			a.checkCall(node)
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.walk(node.NamedChild(i))
	}
}

func (a *analysis) measureFunction(node *sitter.Node) {
	a.functions++

	name := "anonymous function"
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		name = a.text(nameNode)
	}

	if lines := int(node.EndPoint().Row) - int(node.StartPoint().Row) + 1; lines > maxFunctionLines {
		a.add(kindLongFunction, fmt.Sprintf("%s spans %d lines", name, lines), node)
	}
	if depth := a.maxNesting(node, 0); depth > maxNestingDepth {
		a.add(kindDeepNesting, fmt.Sprintf("%s nests %d levels deep", name, depth), node)
	}
}

// maxNesting reports the deepest chain of nesting constructs under node.
// Nested function definitions are skipped; the outer walk measures them on
// their own.
func (a *analysis) maxNesting(node *sitter.Node, depth int) int {
	deepest := depth
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if a.spec.functions[child.Type()] {
			continue
		}
		childDepth := depth
		if a.spec.nesting[child.Type()] {
			childDepth++
		}
		if d := a.maxNesting(child, childDepth); d > deepest {
			deepest = d
		}
	}
	return deepest
}

func (a *analysis) checkComment(node *sitter.Node) {
	text := a.text(node)
	if strings.Contains(text, "TODO") || strings.Contains(text, "FIXME") {
		a.add(kindTodoMarker, "unresolved TODO/FIXME marker", node)
	}
}

func (a *analysis) checkCall(node *sitter.Node) {
	calleeNode := node.ChildByFieldName("function")
	if calleeNode == nil {
		return
	}

	callee := a.text(calleeNode)
	if !a.spec.suspicious[callee] {
		idx := strings.LastIndex(callee, ".")
		if idx == -1 || !a.spec.suspicious[callee[idx+1:]] {
			return
		}
	}
	a.add(kindSuspiciousCall, fmt.Sprintf("call to %s", callee), node)
}

func (a *analysis) add(kind, message string, node *sitter.Node) {
	a.findings = append(a.findings, Finding{
		Kind:    kind,
		Message: message,
		Line:    int(node.StartPoint().Row) + 1,
	})
}

func (a *analysis) text(node *sitter.Node) string {
	return string(a.content[node.StartByte():node.EndByte()])
}
