package ranking

import (
	"fmt"
	"sort"

	"github.com/ahrav/go-tally/internal/domain"
)

// Method is a seat apportionment rule between parties.
type Method string

// Supported apportionment methods.
const (
	// MethodNone disables apportionment.
	MethodNone Method = ""
	// DHondt divides by 1, 2, 3, ...
	DHondt Method = "dhondt"
	// SainteLague divides by 1, 3, 5, ...
	SainteLague Method = "sainte_lague"
	// LargestRemainder uses the Hare quota and hands leftover seats to the
	// largest remainders.
	LargestRemainder Method = "largest_remainder"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodNone, DHondt, SainteLague, LargestRemainder:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown apportionment method %q", domain.ErrInvalidConfiguration, s)
}

// Apportion distributes seats between parties and returns a copy of
// parties with Seats set. Ties go to the party ranked higher, which is the
// earlier one in parties. Parties with no votes never win a seat.
func Apportion(parties []domain.PartyResult, seats int, method Method) ([]domain.PartyResult, error) {
	out := append([]domain.PartyResult(nil), parties...)
	for i := range out {
		out[i].Seats = 0
	}
	if seats <= 0 || len(out) == 0 {
		return out, nil
	}

	var total int64
	for _, p := range out {
		total += p.TotalVotes
	}
	if total == 0 {
		return out, nil
	}

	switch method {
	case DHondt:
		highestAverages(out, seats, func(won int) float64 { return float64(won + 1) })
	case SainteLague:
		highestAverages(out, seats, func(won int) float64 { return float64(2*won + 1) })
	case LargestRemainder:
		largestRemainder(out, seats, total)
	case MethodNone:
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown apportionment method %q", domain.ErrInvalidConfiguration, method)
	}
	return out, nil
}

// highestAverages awards seats one at a time to the largest quotient
// votes / divisor(seats won so far).
func highestAverages(parties []domain.PartyResult, seats int, divisor func(won int) float64) {
	for s := 0; s < seats; s++ {
		best := -1
		var bestQ float64
		for i, p := range parties {
			if p.TotalVotes == 0 {
				continue
			}
			q := float64(p.TotalVotes) / divisor(p.Seats)
			if best == -1 || q > bestQ {
				best, bestQ = i, q
			}
		}
		if best == -1 {
			return
		}
		parties[best].Seats++
	}
}

func largestRemainder(parties []domain.PartyResult, seats int, total int64) {
	type rem struct {
		idx int
		num int64
	}
	// Hare quota total/seats; seats_i = votes_i*seats / total with the
	// remainder kept as an exact numerator.
	rems := make([]rem, 0, len(parties))
	awarded := 0
	for i := range parties {
		product := parties[i].TotalVotes * int64(seats)
		parties[i].Seats = int(product / total)
		awarded += parties[i].Seats
		if parties[i].TotalVotes > 0 {
			rems = append(rems, rem{idx: i, num: product % total})
		}
	}

	sort.SliceStable(rems, func(a, b int) bool { return rems[a].num > rems[b].num })
	for i := 0; awarded < seats && i < len(rems); i++ {
		parties[rems[i].idx].Seats++
		awarded++
	}
}
