package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/schemaflow/platform/internal/engine/expr"
)

var celEnvOnce sync.Once
var celEnv *cel.Env
var celEnvErr error

var celProgramCache sync.Map

func rulesCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// compileCEL compiles a boolean CEL expression, caching programs by source.
// The working document is exposed to the expression as "doc".
func compileCEL(src string) (cel.Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := celProgramCache.Load(src); ok {
		return cached.(cel.Program), nil
	}
	env, err := rulesCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return nil, fmt.Errorf("expression must produce a boolean, got %s", t)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	celProgramCache.Store(src, program)
	return program, nil
}

func evalCEL(src string, doc expr.Context) (bool, error) {
	program, err := compileCEL(src)
	if err != nil {
		return false, fmt.Errorf("cel: %w", err)
	}
	out, _, err := program.Eval(map[string]interface{}{
		"doc": map[string]interface{}(doc),
	})
	if err != nil {
		return false, fmt.Errorf("cel: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: expression produced %T, want bool", out.Value())
	}
	return b, nil
}
