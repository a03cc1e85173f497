package points

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ConditionOperator compares a fact with a literal
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "eq"
	OpNotEquals   ConditionOperator = "ne"
	OpIn          ConditionOperator = "in"
	OpNotIn       ConditionOperator = "not_in"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "gt"
	OpGreaterOrEq ConditionOperator = "gte"
	OpLessThan    ConditionOperator = "lt"
	OpLessOrEq    ConditionOperator = "lte"
	OpExists      ConditionOperator = "exists"
)

func (o ConditionOperator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains,
		OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq, OpExists:
		return true
	}
	return false
}

// GroupOp combines child conditions
type GroupOp string

const (
	GroupAnd GroupOp = "and"
	GroupOr  GroupOp = "or"
	GroupNot GroupOp = "not"
)

// Fact names understood by the interpreter. event.extra.<key> reads the event's extra map.
const (
	FactEventType        = "event.type"
	FactEventChannel     = "event.channel"
	FactEventOrderAmount = "event.orderAmount"
	FactEventExtraPrefix = "event.extra."
	FactUserID           = "user.id"
	FactUserLevel        = "user.level"
	FactUserTags         = "user.tags"
	FactUserRegDays      = "user.registeredDays"
	FactUserHasReferrer  = "user.hasReferrer"
)

const maxConditionDepth = 8

// Condition is one node of an extraConditions expression tree: either a leaf
// comparing a fact with a literal, or a group combining children.
type Condition struct {
	Op         GroupOp           `json:"op,omitempty"`
	Conditions []*Condition      `json:"conditions,omitempty"`
	Field      string            `json:"field,omitempty"`
	Operator   ConditionOperator `json:"operator,omitempty"`
	Value      any               `json:"value,omitempty"`
}

// ConditionError is a configuration error in a stored predicate
type ConditionError struct {
	Path   string
	Reason string
}

func (e *ConditionError) Error() string {
	if e.Path == "" {
		return "extraConditions: " + e.Reason
	}
	return fmt.Sprintf("extraConditions at %s: %s", e.Path, e.Reason)
}

// ParseCondition decodes and validates a serialized predicate.
// An empty string means no predicate and returns nil, nil.
func ParseCondition(raw string) (*Condition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var c Condition
	if err := dec.Decode(&c); err != nil {
		return nil, &ConditionError{Reason: "malformed JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, &ConditionError{Reason: "trailing data after predicate"}
	}
	if err := c.validate("$", 0); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Condition) isGroup() bool {
	return c.Op != ""
}

func (c *Condition) validate(path string, depth int) error {
	if depth > maxConditionDepth {
		return &ConditionError{Path: path, Reason: fmt.Sprintf("nesting deeper than %d", maxConditionDepth)}
	}
	if c.isGroup() {
		if c.Field != "" || c.Operator != "" {
			return &ConditionError{Path: path, Reason: "a node is either a group or a leaf"}
		}
		switch c.Op {
		case GroupAnd, GroupOr:
			if len(c.Conditions) == 0 {
				return &ConditionError{Path: path, Reason: string(c.Op) + " needs at least one condition"}
			}
		case GroupNot:
			if len(c.Conditions) != 1 {
				return &ConditionError{Path: path, Reason: "not takes exactly one condition"}
			}
		default:
			return &ConditionError{Path: path, Reason: fmt.Sprintf("unknown group op %q", c.Op)}
		}
		for i, child := range c.Conditions {
			if child == nil {
				return &ConditionError{Path: fmt.Sprintf("%s.conditions[%d]", path, i), Reason: "null condition"}
			}
			if err := child.validate(fmt.Sprintf("%s.conditions[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if len(c.Conditions) > 0 {
		return &ConditionError{Path: path, Reason: "leaf must not have child conditions"}
	}
	if !isKnownFact(c.Field) {
		return &ConditionError{Path: path, Reason: fmt.Sprintf("unknown field %q", c.Field)}
	}
	if !c.Operator.IsValid() {
		return &ConditionError{Path: path, Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	switch c.Operator {
	case OpIn, OpNotIn:
		if _, ok := c.Value.([]any); !ok {
			return &ConditionError{Path: path, Reason: string(c.Operator) + " needs a list value"}
		}
	case OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq:
		if _, ok := toDecimal(c.Value); !ok {
			return &ConditionError{Path: path, Reason: string(c.Operator) + " needs a numeric value"}
		}
	case OpExists:
		if c.Value != nil {
			if _, ok := c.Value.(bool); !ok {
				return &ConditionError{Path: path, Reason: "exists takes a boolean value"}
			}
		}
	default:
		if c.Value == nil {
			return &ConditionError{Path: path, Reason: string(c.Operator) + " needs a value"}
		}
	}
	return nil
}

func isKnownFact(field string) bool {
	switch field {
	case FactEventType, FactEventChannel, FactEventOrderAmount,
		FactUserID, FactUserLevel, FactUserTags, FactUserRegDays, FactUserHasReferrer:
		return true
	}
	return strings.HasPrefix(field, FactEventExtraPrefix) && len(field) > len(FactEventExtraPrefix)
}

// Facts is the flattened actor/event snapshot a predicate is evaluated against
type Facts map[string]any

// BuildFacts flattens an event and member into predicate facts
func BuildFacts(ev *ActivityEvent, m *Member) Facts {
	f := Facts{
		FactEventType:       string(ev.EventType),
		FactEventChannel:    ev.Channel,
		FactUserID:          ev.UserID,
		FactUserHasReferrer: ev.ReferrerID != "",
	}
	if ev.OrderAmount != nil {
		f[FactEventOrderAmount] = *ev.OrderAmount
	}
	for k, v := range ev.Extra {
		f[FactEventExtraPrefix+k] = v
	}
	if m != nil {
		f[FactUserLevel] = m.Level
		f[FactUserTags] = m.Tags
		f[FactUserHasReferrer] = m.HasReferrer() || ev.ReferrerID != ""
		if d := m.RegisteredDays(ev.OccurredAt); d >= 0 {
			f[FactUserRegDays] = d
		}
	}
	return f
}

// Evaluate interprets the tree against facts. Missing facts fail every operator except exists.
func (c *Condition) Evaluate(facts Facts) bool {
	if c == nil {
		return true
	}
	if c.isGroup() {
		switch c.Op {
		case GroupAnd:
			for _, child := range c.Conditions {
				if !child.Evaluate(facts) {
					return false
				}
			}
			return true
		case GroupOr:
			for _, child := range c.Conditions {
				if child.Evaluate(facts) {
					return true
				}
			}
			return false
		case GroupNot:
			return !c.Conditions[0].Evaluate(facts)
		}
		return false
	}

	fact, present := facts[c.Field]
	if c.Operator == OpExists {
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return present == want
	}
	if !present || fact == nil {
		return false
	}
	return applyOperator(c.Operator, fact, c.Value)
}

func applyOperator(op ConditionOperator, fact, literal any) bool {
	switch op {
	case OpEquals:
		return valuesEqual(fact, literal)
	case OpNotEquals:
		return !valuesEqual(fact, literal)
	case OpIn:
		return inList(fact, literal)
	case OpNotIn:
		return !inList(fact, literal)
	case OpContains:
		return contains(fact, literal)
	case OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq:
		a, ok1 := toDecimal(fact)
		b, ok2 := toDecimal(literal)
		if !ok1 || !ok2 {
			return false
		}
		cmp := a.Cmp(b)
		switch op {
		case OpGreaterThan:
			return cmp > 0
		case OpGreaterOrEq:
			return cmp >= 0
		case OpLessThan:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Equal(db)
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	return toString(a) == toString(b)
}

func inList(fact, literal any) bool {
	list, ok := literal.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(fact, item) {
			return true
		}
	}
	return false
}

func contains(fact, literal any) bool {
	switch v := fact.(type) {
	case []string:
		needle := toString(literal)
		for _, s := range v {
			if s == needle {
				return true
			}
		}
		return false
	case []any:
		for _, item := range v {
			if valuesEqual(item, literal) {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(v, toString(literal))
	}
	return false
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case decimal.Decimal:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	}
	return decimal.Zero, false
}
