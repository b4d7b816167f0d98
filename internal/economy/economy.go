package economy

import (
	"fmt"
	"strconv"
	"strings"
)

// Provider is the balance service the engine moves currency through.
// Withdraw and Deposit report success as a boolean: a false withdraw
// aborts the surrounding operation with no partial state change.
type Provider interface {
	GetBalance(playerID string) float64
	Has(playerID string, amount float64) bool
	Withdraw(playerID string, amount float64) bool
	Deposit(playerID string, amount float64) bool
	// DepositOffline credits a player who has no active session. For the
	// built-in wallet this is identical to Deposit; external providers may
	// route it differently.
	DepositOffline(playerID string, amount float64) bool
	Format(amount float64) string
}

// FormatAmount renders an amount as "$1,234.56".
func FormatAmount(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s$%s.%s", sign, b.String(), frac)
}
