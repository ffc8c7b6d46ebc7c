// pkg/types/flag.go
package types

import "time"

// Clause operators supported by targeting rules.
const (
	OperatorIn          = "in"
	OperatorContains    = "contains"
	OperatorStartsWith  = "startsWith"
	OperatorEndsWith    = "endsWith"
	OperatorMatches     = "matches"
	OperatorGreaterThan = "greaterThan"
	OperatorLessThan    = "lessThan"
)

// Variation is one of a flag's named values.
type Variation struct {
	Key   string      `json:"key" bson:"key"`
	Value interface{} `json:"value" bson:"value"`
}

// Clause compares a single context attribute against a value list. The clause
// result is inverted when Negate is set.
type Clause struct {
	Attribute string   `json:"attribute" bson:"attribute" validate:"required"`
	Operator  string   `json:"operator" bson:"operator" validate:"required,oneof=in contains startsWith endsWith matches greaterThan lessThan"`
	Values    []string `json:"values" bson:"values" validate:"required,min=1"`
	Negate    bool     `json:"negate" bson:"negate"`
}

// TargetingRule routes matching users to a fixed variation. A rule matches
// only when every clause matches.
type TargetingRule struct {
	Clauses   []Clause `json:"clauses" bson:"clauses" validate:"required,min=1,dive"`
	Variation string   `json:"variation" bson:"variation" validate:"required"`
}

// WeightedVariation assigns a share of the rollout bucket space to a variation.
type WeightedVariation struct {
	Variation string  `json:"variation" bson:"variation"`
	Weight    float64 `json:"weight" bson:"weight"`
}

// WeightedRollout distributes users across variations by cumulative weight.
// Declared order matters: buckets are walked front to back.
type WeightedRollout struct {
	Variations []WeightedVariation `json:"variations" bson:"variations"`
}

// Fallthrough is applied when no targeting rule matches. Rollout takes
// precedence over the fixed variation when both are set.
type Fallthrough struct {
	Variation string           `json:"variation,omitempty" bson:"variation,omitempty"`
	Rollout   *WeightedRollout `json:"rollout,omitempty" bson:"rollout,omitempty"`
}

// FeatureFlag is the evaluable unit of a progressive rollout.
type FeatureFlag struct {
	Key               string          `json:"key" bson:"_id"`
	Name              string          `json:"name" bson:"name"`
	Variations        []Variation     `json:"variations" bson:"variations"`
	Rules             []TargetingRule `json:"rules" bson:"rules"`
	Fallthrough       Fallthrough     `json:"fallthrough" bson:"fallthrough"`
	DefaultVariation  string          `json:"defaultVariation" bson:"default_variation"`
	RolloutPercentage float64         `json:"rolloutPercentage" bson:"rollout_percentage"`
	Environment       string          `json:"environment" bson:"environment"`
	CreatedAt         time.Time       `json:"createdAt" bson:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" bson:"updated_at"`
}

// EvalContext carries the attributes a flag evaluation can target.
type EvalContext struct {
	UserID   string            `json:"userId" validate:"required"`
	UserType string            `json:"userType,omitempty"`
	Platform string            `json:"platform,omitempty"`
	Version  string            `json:"version,omitempty"`
	Country  string            `json:"country,omitempty"`
	Segment  string            `json:"segment,omitempty"`
	Custom   map[string]string `json:"custom,omitempty"`
}

// Attribute resolves a named attribute, falling back to the custom map.
func (c *EvalContext) Attribute(name string) (string, bool) {
	switch name {
	case "userId", "user_id":
		return c.UserID, c.UserID != ""
	case "userType", "user_type":
		return c.UserType, c.UserType != ""
	case "platform":
		return c.Platform, c.Platform != ""
	case "version":
		return c.Version, c.Version != ""
	case "country":
		return c.Country, c.Country != ""
	case "segment":
		return c.Segment, c.Segment != ""
	}
	if c.Custom != nil {
		if v, ok := c.Custom[name]; ok {
			return v, true
		}
	}
	return "", false
}
