package tools

import (
	"context"
	"time"
)

// CurrentTimeSpec describes the built-in currentTime tool. The placeholder
// property keeps endpoints that reject empty property maps satisfied.
var CurrentTimeSpec = Spec{
	Name:        "currentTime",
	Description: "Get the current time.",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"fake property": map[string]interface{}{"type": "null"},
		},
		"required": []interface{}{},
	},
}

// CurrentTime returns a Func reporting the time from now.
func CurrentTime(now func() time.Time) Func {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, args map[string]interface{}) (Result, error) {
		return Text(now().Format("15:04:05")), nil
	}
}

// RegisterBuiltins defines the built-in tools on r.
func RegisterBuiltins(r *Registry) error {
	_, err := r.Define(CurrentTime(nil), CurrentTimeSpec)
	return err
}
