package processor

import (
	"fmt"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

// BandExpression derives an extra output column from the band values of a
// pixel, e.g. ndvi=(B_4-B_3)/(B_4+B_3).
type BandExpression struct {
	Name    string
	Source  string
	Expr    *goeval.EvaluableExpression
	VarRefs []string
}

type BandExpressions struct {
	Expressions []*BandExpression
}

func (be *BandExpressions) Names() []string {
	if be == nil {
		return nil
	}
	names := make([]string, len(be.Expressions))
	for i, e := range be.Expressions {
		names[i] = e.Name
	}
	return names
}

func (be *BandExpressions) Len() int {
	if be == nil {
		return 0
	}
	return len(be.Expressions)
}

// ParseBandExpressions parses name=expression pairs. Expressions may only
// reference band columns B_1..B_bandCount.
func ParseBandExpressions(defs []string, bandCount int) (*BandExpressions, error) {
	be := &BandExpressions{}
	if len(defs) == 0 {
		return be, nil
	}

	validVariables := make(map[string]struct{}, bandCount)
	for ib := 1; ib <= bandCount; ib++ {
		validVariables[BandName(ib)] = struct{}{}
	}
	seen := make(map[string]struct{})

	for _, def := range defs {
		parts := strings.SplitN(def, "=", 2)
		if len(parts) != 2 || len(strings.TrimSpace(parts[0])) == 0 || len(strings.TrimSpace(parts[1])) == 0 {
			return nil, fmt.Errorf("band expression '%s' is not of the form name=expression", def)
		}
		name := strings.TrimSpace(parts[0])
		if _, found := validVariables[name]; found {
			return nil, fmt.Errorf("band expression name %s collides with a band column", name)
		}
		if name == CoverFracColumn || name == PixelIDColumn {
			return nil, fmt.Errorf("band expression name %s collides with a reserved column", name)
		}
		if _, found := seen[name]; found {
			return nil, fmt.Errorf("band expression %s defined more than once", name)
		}
		seen[name] = struct{}{}

		expr, err := goeval.NewEvaluableExpression(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("band expression %s: %v", name, err)
		}

		var refs []string
		for _, token := range expr.Tokens() {
			if token.Kind != goeval.VARIABLE {
				continue
			}
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("band expression %s: variable %v is not a band of this raster (B_1..B_%d)", name, varName, bandCount)
			}
			refs = append(refs, varName)
		}

		be.Expressions = append(be.Expressions, &BandExpression{Name: name, Source: parts[1], Expr: expr, VarRefs: refs})
	}

	return be, nil
}

// Evaluate computes every expression for one pixel. Expressions are
// evaluated in float32; boolean results are mapped to 0 and 1.
func (be *BandExpressions) Evaluate(bands []float64) ([]float64, error) {
	if be.Len() == 0 {
		return nil, nil
	}

	params := make(map[string]interface{}, len(bands))
	for ib, v := range bands {
		params[BandName(ib+1)] = float32(v)
	}

	out := make([]float64, len(be.Expressions))
	for i, e := range be.Expressions {
		res, err := e.Expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %v", e.Name, err)
		}
		switch v := res.(type) {
		case float32:
			out[i] = float64(v)
		case bool:
			if v {
				out[i] = 1
			}
		default:
			return nil, fmt.Errorf("failed to cast result '%v' of band expression %s to float32", res, e.Name)
		}
	}
	return out, nil
}
