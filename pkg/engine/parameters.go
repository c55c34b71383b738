package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stackmason/stackmason/pkg/blueprint"
	"github.com/stackmason/stackmason/pkg/telemetry"
)

// ResolveParameters filters a stack's supplied parameter values against the
// blueprint's declared set and coerces each value to its wire string. Keys
// the blueprint does not declare are logged and dropped, not erred, so a
// definition can carry parameters a given template version no longer uses.
// Nil values are dropped so template defaults apply; booleans render as
// lowercase strings.
func ResolveParameters(log *telemetry.Logger, supplied map[string]interface{}, bp *blueprint.Blueprint) (map[string]string, error) {
	resolved := make(map[string]string, len(supplied))

	for key, value := range supplied {
		if !bp.Declares(key) {
			log.WithField("parameter", key).Debug("blueprint does not declare parameter, dropping")
			continue
		}
		if value == nil {
			continue
		}

		str, err := stringifyValue(value)
		if err != nil {
			return nil, NewPermanentError(
				fmt.Sprintf("parameter %s has unsupported value", key), err).
				WithCode(ErrCodeValidation)
		}
		resolved[key] = str
	}

	return resolved, nil
}

// handleMissingParameters fills required-but-absent parameters from the
// deployed stack's current values, then fails listing every key that is
// still unresolved. The deployed description may be nil when the stack has
// never been deployed; the fallback then contributes nothing.
func handleMissingParameters(fqn string, params map[string]string, required []string, deployed *StackDescription) ([]Parameter, error) {
	missing := missingKeys(params, required)

	if len(missing) > 0 && deployed != nil {
		for _, key := range missing {
			if value, ok := deployed.Parameters[key]; ok {
				params[key] = value
			}
		}
		missing = missingKeys(params, required)
	}

	if len(missing) > 0 {
		return nil, NewMissingParameterError(fqn, missing)
	}

	out := make([]Parameter, 0, len(params))
	for key, value := range params {
		out = append(out, Parameter{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func missingKeys(params map[string]string, required []string) []string {
	var missing []string
	for _, key := range required {
		if _, ok := params[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// stringifyValue converts a decoded YAML parameter value to its wire string.
func stringifyValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []interface{}:
		// List values join comma-separated, matching the provider's
		// CommaDelimitedList convention.
		parts := make([]string, len(v))
		for i, item := range v {
			str, err := stringifyValue(item)
			if err != nil {
				return "", err
			}
			parts[i] = str
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported parameter value type %T", value)
	}
}
