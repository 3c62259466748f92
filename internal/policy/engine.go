package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/rego"
)

const (
	moduleName      = "shelldone.rego"
	queryAllow      = "data.shelldone.allow"
	queryAllowOSC   = "data.shelldone.allow_osc"
	queryDenyReason = "data.shelldone.deny_reason"
)

// PolicyError wraps every failure the engine can produce: file I/O while
// loading, Rego compile errors, and Rego evaluation errors.
type PolicyError struct {
	Op  string
	Err error
}

func (e *PolicyError) Error() string { return fmt.Sprintf("policy: %s: %v", e.Op, e.Err) }
func (e *PolicyError) Unwrap() error { return e.Err }

// Engine evaluates the three decision points against an optional Rego
// document. With no policy loaded it runs in disabled mode: every
// evaluate_* call allows.
type Engine struct {
	mu sync.RWMutex

	policyPath string
	source     string

	allowQuery      *rego.PreparedEvalQuery
	allowOSCQuery   *rego.PreparedEvalQuery
	denyReasonQuery *rego.PreparedEvalQuery

	cache *decisionCache
	log   *slog.Logger
}

// NewEngine constructs an Engine rooted at policyPath. A missing file or an
// empty path leaves the engine in disabled mode rather than erroring —
// only a present-but-unparseable file is a constructor error.
func NewEngine(policyPath string, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		policyPath: policyPath,
		cache:      newDecisionCache(),
		log:        log,
	}
	if policyPath == "" {
		return e, nil
	}
	if _, err := os.Stat(policyPath); os.IsNotExist(err) {
		e.log.Warn("policy: file not found, running in disabled mode", "path", policyPath)
		return e, nil
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// enabled reports whether a policy document is currently compiled.
func (e *Engine) enabled() bool {
	return e.allowQuery != nil
}

// Reload re-reads and recompiles the policy file. On parse failure the
// in-memory policy is left unchanged and the error is returned. On success
// the decision cache is cleared.
func (e *Engine) Reload() error {
	data, err := os.ReadFile(e.policyPath)
	if err != nil {
		return &PolicyError{Op: "read", Err: err}
	}
	src := string(data)

	allow, err := compile(src, queryAllow)
	if err != nil {
		return &PolicyError{Op: "compile allow", Err: err}
	}
	allowOSC, err := compile(src, queryAllowOSC)
	if err != nil {
		return &PolicyError{Op: "compile allow_osc", Err: err}
	}
	denyReason, err := compile(src, queryDenyReason)
	if err != nil {
		return &PolicyError{Op: "compile deny_reason", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = src
	e.allowQuery = allow
	e.allowOSCQuery = allowOSC
	e.denyReasonQuery = denyReason
	e.cache.clear()
	return nil
}

func compile(src, query string) (*rego.PreparedEvalQuery, error) {
	r := rego.New(
		rego.Query(query),
		rego.Module(moduleName, src),
	)
	prepared, err := r.PrepareForEval(context.Background())
	if err != nil {
		return nil, err
	}
	return &prepared, nil
}

// EvaluateACK evaluates the ACK decision point. Only this query is cached.
func (e *Engine) EvaluateACK(ctx context.Context, in ACKInput) (Decision, error) {
	e.mu.RLock()
	if !e.enabled() {
		e.mu.RUnlock()
		return Decision{Allowed: true}, nil
	}
	key := in.CacheKey()
	if d, ok := e.cache.get(key); ok {
		e.mu.RUnlock()
		return d, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled() {
		return Decision{Allowed: true}, nil
	}
	if d, ok := e.cache.get(key); ok {
		return d, nil
	}
	d, err := e.evalLocked(ctx, in, e.allowQuery)
	if err != nil {
		return Decision{}, err
	}
	e.cache.put(key, d)
	return d, nil
}

// EvaluateOSC evaluates the OSC allowlist decision point. Not cached.
func (e *Engine) EvaluateOSC(ctx context.Context, code int, operation string) (Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.enabled() {
		return Decision{Allowed: true}, nil
	}
	input := map[string]any{"osc_code": code, "operation": operation}
	return e.evalLocked(ctx, input, e.allowOSCQuery)
}

// EvaluateTLS evaluates the TLS material decision point. Not cached.
func (e *Engine) EvaluateTLS(ctx context.Context, in TLSInput) (Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.enabled() {
		return Decision{Allowed: true}, nil
	}
	return e.evalLocked(ctx, in, e.allowQuery)
}

// evalLocked runs allowQuery (and, on denial, denyReasonQuery) against in.
// Caller must hold e.mu for at least reading.
func (e *Engine) evalLocked(ctx context.Context, in any, allowQuery *rego.PreparedEvalQuery) (Decision, error) {
	results, err := allowQuery.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Decision{}, &PolicyError{Op: "eval", Err: err}
	}
	allowed := resultBool(results)
	if allowed {
		return Decision{Allowed: true}, nil
	}

	reasons, err := e.denyReasonQuery.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Decision{}, &PolicyError{Op: "eval deny_reason", Err: err}
	}
	list := resultReasons(reasons)
	if len(list) == 0 {
		list = []string{"Policy denied without specific reason"}
	}
	return Decision{Allowed: false, DenyReasons: list}, nil
}

func resultBool(rs rego.ResultSet) bool {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false
	}
	b, _ := rs[0].Expressions[0].Value.(bool)
	return b
}

func resultReasons(rs rego.ResultSet) []string {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	switch v := rs[0].Expressions[0].Value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		// Rego sets decode as a map with boolean-true values; order is not
		// guaranteed, so results are sorted for determinism.
		out := make([]string, 0, len(v))
		for k := range v {
			out = append(out, k)
		}
		sortStrings(out)
		return out
	default:
		return nil
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// JoinReasons formats deny reasons the way ACK surfaces them to callers.
func JoinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
