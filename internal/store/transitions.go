package store

import (
	"fmt"

	"github.com/cri-9/oficina-600/internal/models"
)

const ticketNumberPad = 3

var transitionMap = map[string][]string{
	"call_next": {models.StatePending},
	"finalize":  {models.StateInService},
	"reset":     {models.StateInService},
	"archive":   {models.StatePending, models.StateInService},
}

func ValidTransition(action, fromState string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == fromState {
			return true
		}
	}
	return false
}

// FormatTicketNumber builds the printed ticket number: the attention-type
// prefix followed by the zero-padded daily sequence, e.g. "SAE001". The pad
// widens on its own once a module hands out more than 999 tickets in a day.
func FormatTicketNumber(attentionType string, seq int64) string {
	return fmt.Sprintf("%s%0*d", attentionType, ticketNumberPad, seq)
}
