// Package session implements the Session/Options layer of spec.md §4.O:
// namespace/database selection, the authenticated principal, capabilities,
// and the query timeout every Datastore.Execute call runs under.
package session

import (
	"time"

	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/expr"
)

// Capabilities gates the IAM-adjacent surface this core calls into (full
// policy evaluation is out of scope — spec.md §1 — but the core still needs
// to know what a session may touch at a statement boundary: spec.md
// "Capability/permission checks and IAM — evaluated at statement boundaries
// via a Session → Options adapter").
type Capabilities struct {
	AllowScripting bool
	AllowNet       bool
	AllowGuests    bool
	// AllowFunctions, when non-empty, is the only set of function names a
	// session may call; empty means no allow-list restriction.
	AllowFunctions []string
	DenyFunctions  []string
}

// FunctionAllowed reports whether name may be invoked under these
// capabilities.
func (c Capabilities) FunctionAllowed(name string) bool {
	for _, d := range c.DenyFunctions {
		if d == name {
			return false
		}
	}
	if len(c.AllowFunctions) == 0 {
		return true
	}
	for _, a := range c.AllowFunctions {
		if a == name {
			return true
		}
	}
	return false
}

// Session carries the per-connection state of spec.md §4.O: "namespace?,
// database?, authenticated principal, capabilities, expiration, token,
// variables".
type Session struct {
	Namespace    *string
	Database     *string
	Principal    string
	Capabilities Capabilities
	Expiration   *time.Time
	Token        string
	Variables    map[string]value.Value
}

// Expired reports whether the session's token has passed its expiration at
// the given instant.
func (s *Session) Expired(now time.Time) bool {
	return s.Expiration != nil && now.After(*s.Expiration)
}

// EvalContext builds the expr.EvalContext a query executes under: the
// session's bound variables, available to every Param expression.
func (s *Session) EvalContext() *expr.EvalContext {
	vars := s.Variables
	if vars == nil {
		vars = map[string]value.Value{}
	}
	return &expr.EvalContext{Params: vars}
}

// Options is the resolved, per-statement adapter the driver builds from a
// Session plus request-level overrides (spec.md §4.O, §4.N budget fields).
// Where Session carries long-lived connection state, Options carries what a
// single execute(...) call actually runs with.
type Options struct {
	Namespace    *string
	Database     *string
	Capabilities Capabilities
	QueryTimeout time.Duration
	Vars         map[string]value.Value
}

// DefaultQueryTimeout is used when the request gives no timeout; Session
// carries no timeout of its own (spec.md §6: SURREAL_QUERY_TIMEOUT_MS).
const DefaultQueryTimeout = 30 * time.Second

// NewOptions resolves a Session plus request-scoped vars/timeout override
// into the Options a single execute(...) call runs under. A zero or
// negative timeout override means DefaultQueryTimeout.
func NewOptions(s *Session, vars map[string]value.Value, timeout time.Duration) *Options {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	merged := make(map[string]value.Value, len(s.Variables)+len(vars))
	for k, v := range s.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return &Options{
		Namespace:    s.Namespace,
		Database:     s.Database,
		Capabilities: s.Capabilities,
		QueryTimeout: timeout,
		Vars:         merged,
	}
}

// EvalContext builds the expr.EvalContext a statement under these Options
// evaluates against.
func (o *Options) EvalContext() *expr.EvalContext {
	return &expr.EvalContext{Params: o.Vars}
}
