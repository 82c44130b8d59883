package nad

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is the single-character NADCP operator between variable and value.
type Operator byte

// NADCP operators.
const (
	// OpSet assigns a value, and is also the form of every status reply.
	OpSet Operator = '='

	// OpQuery asks the receiver to report the current value.
	OpQuery Operator = '?'

	// OpIncrement steps the value up. The receiver decides the step size.
	OpIncrement Operator = '+'

	// OpDecrement steps the value down.
	OpDecrement Operator = '-'
)

// lineTerminator ends every outbound command.
const lineTerminator = "\r"

// String returns the wire character of the operator.
func (o Operator) String() string {
	return string(rune(o))
}

// Valid reports whether o is one of the four NADCP operators.
func (o Operator) Valid() bool {
	switch o {
	case OpSet, OpQuery, OpIncrement, OpDecrement:
		return true
	default:
		return false
	}
}

// ParseOperator converts a wire character into an Operator.
func ParseOperator(c byte) (Operator, bool) {
	op := Operator(c)
	return op, op.Valid()
}

// Message is one decoded NADCP line.
//
// Prefix names the namespace (Main, Zone2, Tuner, Source3). Variable is the
// dotted path inside it (Power, FM.Frequency) and is empty for bare-prefix
// lines. Value is empty for queries and step commands.
type Message struct {
	Prefix   string
	Variable string
	Operator Operator
	Value    string
}

// String renders the message without the line terminator, for logging.
func (m Message) String() string {
	return strings.TrimSuffix(Encode(m), lineTerminator)
}

// Grammars for inbound lines.
var (
	// prefix "." variable operator value
	fullLinePattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*)\.([A-Za-z0-9_.]+)([=?+\-])(.*)$`)

	// prefix operator, optionally followed by "="
	barePrefixPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*)([=?+\-])=?$`)
)

// Encode renders m in wire form: prefix "." variable operator value "\r".
//
// Encode does not validate the variable; the catalog supplies legal ones.
// A message with an empty variable is rendered in bare-prefix form.
func Encode(m Message) string {
	var b strings.Builder
	b.Grow(len(m.Prefix) + len(m.Variable) + len(m.Value) + 3) //nolint:mnd // dot, operator, terminator
	b.WriteString(m.Prefix)
	if m.Variable != "" {
		b.WriteByte('.')
		b.WriteString(m.Variable)
	}
	b.WriteByte(byte(m.Operator))
	b.WriteString(m.Value)
	b.WriteString(lineTerminator)
	return b.String()
}

// Decode parses one inbound line.
//
// Line terminators and trailing whitespace on the value are stripped. A
// query's value is normalised to empty. Lines matching neither grammar
// return a *ParseError holding the original line; callers skip them.
func Decode(line string) (Message, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return Message{}, ErrEmptyLine
	}

	if m := fullLinePattern.FindStringSubmatch(trimmed); m != nil {
		msg := Message{
			Prefix:   m[1],
			Variable: m[2],
			Operator: Operator(m[3][0]),
			Value:    strings.TrimRight(m[4], " \t"),
		}
		if msg.Operator == OpQuery {
			msg.Value = ""
		}
		return msg, nil
	}

	if m := barePrefixPattern.FindStringSubmatch(strings.TrimRight(trimmed, " \t")); m != nil {
		return Message{
			Prefix:   m[1],
			Operator: Operator(m[2][0]),
		}, nil
	}

	return Message{}, &ParseError{Line: line}
}

// NewQuery builds a query message for prefix.variable.
func NewQuery(prefix, variable string) Message {
	return Message{Prefix: prefix, Variable: variable, Operator: OpQuery}
}

// NewSet builds a set message for prefix.variable.
func NewSet(prefix, variable, value string) Message {
	return Message{Prefix: prefix, Variable: variable, Operator: OpSet, Value: value}
}

// formatLines renders messages for log output.
func formatLines(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("%q", m.String()))
	}
	return strings.Join(parts, ", ")
}
