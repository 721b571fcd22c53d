// Package matcher provides a simple "rule" language that may be used
// inside plugin directives to select the DHCP messages a plugin acts on.
// The matcher library is based on github.com/Knetic/govaluate
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/caddyserver/caddy"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

type (
	// Matcher is a DHCP message matcher
	Matcher struct {
		// expr holds the pre-compiled expression. A nil expression
		// matches everything
		expr *govaluate.EvaluableExpression
	}

	// ExprFunc can be used expose functions to matcher expressions
	ExprFunc func(args ...interface{}) (interface{}, error)
)

// SetupMatcher parses the if and if_op lines of the current dispenser block
// and returns a DHCP message matcher
func SetupMatcher(c *caddy.Controller, fns ...map[string]ExprFunc) (*Matcher, error) {
	exprStr, err := ParseConditions(c)
	if err != nil {
		return nil, err
	}

	return SetupMatcherString(exprStr, fns...)
}

// SetupMatcherRemainingArgs uses the remaining arguments of the current
// directive line as the condition
func SetupMatcherRemainingArgs(c *caddy.Controller, fns ...map[string]ExprFunc) (*Matcher, error) {
	return SetupMatcherString(strings.Join(c.RemainingArgs(), " "), fns...)
}

// SetupMatcherString compiles exprStr. An empty string returns a matcher
// that matches all messages
func SetupMatcherString(exprStr string, fns ...map[string]ExprFunc) (*Matcher, error) {
	if strings.TrimSpace(exprStr) == "" {
		return EmptyCondition(), nil
	}

	functions := make(map[string]govaluate.ExpressionFunction)

	for _, m := range fns {
		for name, fn := range m {
			functions[name] = govaluate.ExpressionFunction(fn)
		}
	}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, functions)
	if err != nil {
		return nil, err
	}

	return &Matcher{
		expr: expr,
	}, nil
}

// EmptyCondition returns a matcher that matches all messages
func EmptyCondition() *Matcher {
	return &Matcher{}
}

// String returns the expression of the matcher
func (m *Matcher) String() string {
	if m.expr == nil {
		return ""
	}
	return m.expr.String()
}

// Match evaluates the expression stored in the matcher against the given
// request and response. res may be nil
func (m *Matcher) Match(ctx context.Context, req, res *dhcpv4.DHCPv4) (bool, error) {
	if m == nil || m.expr == nil {
		return true, nil
	}

	result, err := m.expr.Eval(&Params{Request: req, Response: res})
	if err != nil {
		return false, err
	}

	if b, ok := result.(bool); ok {
		return b, nil
	}

	return false, fmt.Errorf("expression did not evaluate to a boolean. instead, got: %v", result)
}
