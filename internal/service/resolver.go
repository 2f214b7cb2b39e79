// internal/service/resolver.go
package service

import (
	"fmt"
	"strconv"

	"github.com/zapfy/broadcast-backend/internal/model"
)

// ResolveTemplateParams maps a campaign's parameter specification plus
// one member's profile attributes into the concrete values for a send.
// Pure and deterministic: identical inputs always produce identical
// outputs, which is what makes retries of a materialized job safe.
//
// Policy, not failure: a member-sourced slot whose key is absent from
// the member resolves to the empty string. A member-sourced body slot
// configured without a key contributes no value at all.
func ResolveTemplateParams(params *model.TemplateParams, memberAttrs map[string]any) ([]string, []model.ButtonValue) {
	bodyValues := []string{}
	buttonValues := []model.ButtonValue{}
	if params == nil {
		return bodyValues, buttonValues
	}

	for _, p := range params.BodyParams {
		switch {
		case p.Source == model.SourceFixed:
			bodyValues = append(bodyValues, p.Value)
		case p.Source == model.SourceMember && p.Key != "":
			bodyValues = append(bodyValues, attrString(memberAttrs, p.Key))
		}
	}

	for _, p := range params.ButtonParams {
		value := ""
		switch {
		case p.Source == model.SourceFixed:
			value = p.Value
		case p.Source == model.SourceMember && p.Key != "":
			value = attrString(memberAttrs, p.Key)
		}
		buttonValues = append(buttonValues, model.ButtonValue{Index: p.Index, Value: value})
	}

	return bodyValues, buttonValues
}

func attrString(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	v, ok := attrs[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSONB numbers decode as float64; render integers without a
		// trailing fraction.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
