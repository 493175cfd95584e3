package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// SchemaValidationError carries every violated constraint found while
// checking an invocation's arguments, not just the first. The model receives
// the full list in one corrective turn.
type SchemaValidationError struct {
	Tool       string
	Violations []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("tool %s: %d schema violation(s): %s",
		e.Tool, len(e.Violations), strings.Join(e.Violations, "; "))
}

// validateArguments checks args against the descriptor's schema, collecting
// all violations before returning. On success it returns a coerced copy of
// the arguments: JSON numbers are narrowed to integers where the schema says
// integer, and nothing else is modified.
func validateArguments(desc Descriptor, args map[string]any) (map[string]any, error) {
	violations := make([]string, 0)
	coerced := make(map[string]any, len(args))

	specByName := make(map[string]ParamSpec, len(desc.Params))
	for _, spec := range desc.Params {
		specByName[spec.Name] = spec
	}

	for _, spec := range desc.Params {
		value, present := args[spec.Name]
		if !present {
			if spec.Required {
				violations = append(violations,
					fmt.Sprintf("missing required parameter %q", spec.Name))
			}
			continue
		}

		checked, errs := checkValue(spec, value)
		if len(errs) > 0 {
			violations = append(violations, errs...)
			continue
		}
		coerced[spec.Name] = checked
	}

	unknown := make([]string, 0)
	for name := range args {
		if _, ok := specByName[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		violations = append(violations, fmt.Sprintf("unknown parameter %q", name))
	}

	if len(violations) > 0 {
		return nil, &SchemaValidationError{Tool: desc.Name, Violations: violations}
	}
	return coerced, nil
}

func checkValue(spec ParamSpec, value any) (any, []string) {
	switch spec.Type {
	case TypeString:
		return checkString(spec, value)
	case TypeInteger:
		return checkInteger(spec, value)
	case TypeNumber:
		return checkNumber(spec, value)
	case TypeBoolean:
		return checkBoolean(spec, value)
	case TypeArray:
		return checkArray(spec, value)
	default:
		return nil, []string{fmt.Sprintf("parameter %q has unsupported schema type %q", spec.Name, spec.Type)}
	}
}

func checkString(spec ParamSpec, value any) (any, []string) {
	s, ok := value.(string)
	if !ok {
		return nil, []string{typeMismatch(spec, value)}
	}

	if len(spec.Enum) > 0 && !enumContains(spec.Enum, s) {
		return nil, []string{fmt.Sprintf(
			"parameter %q value %q not in allowed set [%s]",
			spec.Name, s, strings.Join(spec.Enum, ", "))}
	}
	return s, nil
}

func checkInteger(spec ParamSpec, value any) (any, []string) {
	// JSON decoding yields float64 for all numbers; accept integral floats.
	switch v := value.(type) {
	case int:
		return checkIntegerRange(spec, int64(v))
	case int64:
		return checkIntegerRange(spec, v)
	case float64:
		if v != math.Trunc(v) {
			return nil, []string{fmt.Sprintf(
				"parameter %q expects an integer, got %v", spec.Name, v)}
		}
		return checkIntegerRange(spec, int64(v))
	default:
		return nil, []string{typeMismatch(spec, value)}
	}
}

func checkIntegerRange(spec ParamSpec, v int64) (any, []string) {
	if errs := checkNumericRange(spec, float64(v)); len(errs) > 0 {
		return nil, errs
	}
	return v, nil
}

func checkNumber(spec ParamSpec, value any) (any, []string) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	default:
		return nil, []string{typeMismatch(spec, value)}
	}

	if errs := checkNumericRange(spec, f); len(errs) > 0 {
		return nil, errs
	}
	return f, nil
}

func checkNumericRange(spec ParamSpec, f float64) []string {
	var errs []string
	if spec.Minimum != nil && f < *spec.Minimum {
		errs = append(errs, fmt.Sprintf(
			"parameter %q value %v below minimum %v", spec.Name, f, *spec.Minimum))
	}
	if spec.Maximum != nil && f > *spec.Maximum {
		errs = append(errs, fmt.Sprintf(
			"parameter %q value %v above maximum %v", spec.Name, f, *spec.Maximum))
	}
	return errs
}

func checkBoolean(spec ParamSpec, value any) (any, []string) {
	b, ok := value.(bool)
	if !ok {
		return nil, []string{typeMismatch(spec, value)}
	}
	return b, nil
}

func checkArray(spec ParamSpec, value any) (any, []string) {
	items, ok := value.([]any)
	if !ok {
		return nil, []string{typeMismatch(spec, value)}
	}

	if spec.Items == "" {
		return items, nil
	}

	elemSpec := ParamSpec{Name: spec.Name, Type: spec.Items}
	var errs []string
	checked := make([]any, 0, len(items))
	for i, item := range items {
		elem, elemErrs := checkValue(elemSpec, item)
		if len(elemErrs) > 0 {
			errs = append(errs, fmt.Sprintf(
				"parameter %q element %d: %s", spec.Name, i, strings.Join(elemErrs, "; ")))
			continue
		}
		checked = append(checked, elem)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return checked, nil
}

func typeMismatch(spec ParamSpec, value any) string {
	return fmt.Sprintf("parameter %q expects %s, got %T", spec.Name, spec.Type, value)
}

func enumContains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
