// internal/model/params.go
package model

// Parameter sources. A fixed slot carries its literal on the campaign;
// a member slot is looked up in the member's additional params at send
// materialization time.
const (
	SourceFixed  = "fixed"
	SourceMember = "member"
)

// ParamMapping describes one body slot of the template.
type ParamMapping struct {
	Source string `json:"source"`
	Value  string `json:"value,omitempty"`
	Key    string `json:"key,omitempty"`
}

// ButtonParamMapping describes one indexed button slot.
type ButtonParamMapping struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
	Value  string `json:"value,omitempty"`
	Key    string `json:"key,omitempty"`
}

// TemplateParams is the campaign's parameter specification, stored as
// JSONB on the campaign row and immutable after materialization.
type TemplateParams struct {
	BodyParams   []ParamMapping       `json:"bodyParams,omitempty"`
	ButtonParams []ButtonParamMapping `json:"buttonParams,omitempty"`
}

// ButtonValue is one resolved button slot.
type ButtonValue struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

// MemberKeys returns every member-sourced key referenced by the mapping.
func (p *TemplateParams) MemberKeys() []string {
	if p == nil {
		return nil
	}
	var keys []string
	for _, bp := range p.BodyParams {
		if bp.Source == SourceMember && bp.Key != "" {
			keys = append(keys, bp.Key)
		}
	}
	for _, bp := range p.ButtonParams {
		if bp.Source == SourceMember && bp.Key != "" {
			keys = append(keys, bp.Key)
		}
	}
	return keys
}
