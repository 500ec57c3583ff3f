package livestream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// filter wraps a compiled CEL program evaluated per message before emission.
// When disabled, Eval always returns true. The cursor still advances for
// filtered-out messages, so filtering never affects deduplication.
type filter struct {
	prog    cel.Program
	enabled bool
}

func newFilter(expr string) (filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("sequence", cel.IntType),
		cel.Variable("body", cel.StringType),
		cel.Variable("content_type", cel.StringType),
		cel.Variable("correlation_id", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("dead_letter", cel.BoolType),
		// Application properties as a dynamic map for field filtering
		cel.Variable("properties", cel.MapType(cel.StringType, cel.DynType)),
		// Parsed JSON body (null when the body is not valid JSON)
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return filter{}, err
	}
	return filter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against a message. Evaluation errors count as
// a non-match.
func (f filter) Eval(lm LiveMessage, deadLetter bool) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal([]byte(lm.Body), &jsonObj)
	props := lm.Properties
	if props == nil {
		props = map[string]any{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"sequence":       lm.SequenceNumber,
		"body":           lm.Body,
		"content_type":   lm.ContentType,
		"correlation_id": lm.CorrelationID,
		"session_id":     lm.SessionID,
		"source":         lm.SourceName,
		"dead_letter":    deadLetter,
		"properties":     props,
		"json":           jsonObj,
		"now_ms":         time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
