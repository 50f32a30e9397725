package auth

import (
	"fmt"
	"reflect"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

// Claims is the decoded, validated JWT claim set carried on a RequestContext
// for the lifetime of one request (spec §3's RequestContext.claims).
type Claims jwt.MapClaims

// Get returns a claim value, or nil with ok=false if absent.
func (c Claims) Get(name string) (interface{}, bool) {
	v, ok := c[name]
	return v, ok
}

// EvaluateRules checks every rule conjunctively; the first failing rule's
// name is returned alongside ok=false, for logging context on ClaimMismatch.
func EvaluateRules(claims Claims, rules []config.ClaimRuleConfig) (ok bool, failedClaim string) {
	for _, rule := range rules {
		v, present := claims[rule.Claim]
		if !present {
			return false, rule.Claim
		}
		if !evaluateOperator(rule.Operator, v, rule.Value) {
			return false, rule.Claim
		}
	}
	return true, ""
}

func evaluateOperator(op string, actual, want interface{}) bool {
	switch op {
	case "equals":
		return fmt.Sprint(actual) == fmt.Sprint(want)
	case "in":
		items, ok := want.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if fmt.Sprint(item) == fmt.Sprint(actual) {
				return true
			}
		}
		return false
	case "contains":
		items, ok := actual.([]interface{})
		if !ok {
			return fmt.Sprint(actual) == fmt.Sprint(want)
		}
		for _, item := range items {
			if fmt.Sprint(item) == fmt.Sprint(want) {
				return true
			}
		}
		return false
	case "gt", "lt", "gte", "lte":
		af, aok := toFloat(actual)
		wf, wok := toFloat(want)
		if !aok || !wok {
			return false
		}
		switch op {
		case "gt":
			return af > wf
		case "lt":
			return af < wf
		case "gte":
			return af >= wf
		default:
			return af <= wf
		}
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}

// IsAdmin reports whether claims satisfy the configured admin gate (spec
// §4.11: admin routes require a configured claim/value pair).
func IsAdmin(claims Claims, adminClaim, adminValue string) bool {
	if adminClaim == "" {
		return false
	}
	v, ok := claims[adminClaim]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == adminValue
}
