package matcher

import (
	"strings"

	"github.com/caddyserver/caddy"
)

// ParseConditions parses the current dispenser block for if and if_op conditions
// and returns them as a single, concatenated expression string usable for
// govaluate.NewEvaluableExpression() and similar
func ParseConditions(c *caddy.Controller) (string, error) {
	var conds []string
	var op = "&&"
	var disp = c.Dispenser // copy so the caller's dispenser does not advance

	for disp.NextBlock() {
		switch disp.Val() {
		case "if":
			if cond := strings.Join(disp.RemainingArgs(), " "); cond != "" {
				conds = append(conds, cond)
			}
		case "if_op":
			if !disp.NextArg() {
				return "", disp.ArgErr()
			}

			switch disp.Val() {
			case "and":
				fallthrough
			case "&&":
				op = "&&"
			case "or":
				fallthrough
			case "||":
				op = "||"
			default:
				return "", c.ArgErr()
			}
		}
	}

	for i, c := range conds {
		conds[i] = "(" + c + ")"
	}

	return strings.Join(conds, " "+op+" "), nil
}
