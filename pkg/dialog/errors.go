package dialog

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidState reports a violation of the turn alternation rules.
var ErrInvalidState = errors.New("invalid dialog state")

func invalidState(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidState, format, args...)
}

// DefaultTokenBudget is the advisory context window, in tokens.
const DefaultTokenBudget = 2048

// charsPerToken is the crude estimate used for the context budget.
const charsPerToken = 4

// ContextBudgetWarning is advisory and never blocks rendering.
type ContextBudgetWarning struct {
	TotalLength     int
	EstimatedTokens int
	Budget          int
}

func (w *ContextBudgetWarning) String() string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("dialog is likely to exceed the context window of %d tokens (estimated %d)", w.Budget, w.EstimatedTokens)
}

func checkBudget(totalLength, budget int) *ContextBudgetWarning {
	if budget <= 0 {
		return nil
	}
	// total/4 > budget, compared without truncation
	if float64(totalLength)/charsPerToken <= float64(budget) {
		return nil
	}
	return &ContextBudgetWarning{
		TotalLength:     totalLength,
		EstimatedTokens: (totalLength + charsPerToken - 1) / charsPerToken,
		Budget:          budget,
	}
}
