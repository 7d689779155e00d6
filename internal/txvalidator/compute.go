package txvalidator

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	cbSetComputeUnitLimit uint8 = 2
	cbSetComputeUnitPrice uint8 = 3
)

// ComputeBudget is what the transaction requests from the ComputeBudget program
type ComputeBudget struct {
	UnitLimit *uint32 `json:"unit_limit,omitempty"`
	UnitPrice *uint64 `json:"unit_price_micro_lamports,omitempty"`
}

// PriorityFeeLamports is the fee the payer is charged on top of the signature fee.
// When no limit is set the runtime default of 200k units per instruction is assumed.
func (cb ComputeBudget) PriorityFeeLamports(numInstructions int) uint64 {
	if cb.UnitPrice == nil {
		return 0
	}
	units := uint64(200_000) * uint64(numInstructions)
	if cb.UnitLimit != nil {
		units = uint64(*cb.UnitLimit)
	}
	if units > MaxComputeUnits {
		units = MaxComputeUnits
	}
	price := *cb.UnitPrice
	if units > 0 && price > (math.MaxUint64-999_999)/units {
		return math.MaxUint64
	}
	// micro-lamports per unit, rounded up
	return (units*price + 999_999) / 1_000_000
}

// PriorityFeeLamports is the priority fee the decoded transaction commits its fee payer to.
// ComputeBudget instructions do not count toward the default unit limit.
func (r *Result) PriorityFeeLamports() uint64 {
	if r.Transaction == nil {
		return 0
	}
	keys := r.Transaction.AccountKeys()
	n := 0
	for _, ix := range r.Transaction.Instructions() {
		if int(ix.ProgramIDIndex) < len(keys) && keys[ix.ProgramIDIndex].Equals(ComputeBudgetProgramID) {
			continue
		}
		n++
	}
	return r.ComputeBudget.PriorityFeeLamports(n)
}

// inspectComputeBudget collects the budget and reports limit or price violations
func (v *Validator) inspectComputeBudget(tx Transaction) (ComputeBudget, []string) {
	var (
		cb   ComputeBudget
		errs []string
	)
	keys := tx.AccountKeys()

	for i, ix := range tx.Instructions() {
		if int(ix.ProgramIDIndex) >= len(keys) || !keys[ix.ProgramIDIndex].Equals(ComputeBudgetProgramID) {
			continue
		}
		if len(ix.Data) == 0 {
			continue
		}

		switch ix.Data[0] {
		case cbSetComputeUnitLimit:
			if len(ix.Data) < 5 {
				errs = append(errs, fmt.Sprintf("instruction %d: truncated SetComputeUnitLimit", i))
				continue
			}
			if cb.UnitLimit != nil {
				errs = append(errs, fmt.Sprintf("instruction %d: duplicate SetComputeUnitLimit", i))
				continue
			}
			limit := binary.LittleEndian.Uint32(ix.Data[1:5])
			cb.UnitLimit = &limit
			if limit > MaxComputeUnits {
				errs = append(errs, fmt.Sprintf("instruction %d: compute unit limit %d exceeds maximum %d",
					i, limit, MaxComputeUnits))
			}

		case cbSetComputeUnitPrice:
			if len(ix.Data) < 9 {
				errs = append(errs, fmt.Sprintf("instruction %d: truncated SetComputeUnitPrice", i))
				continue
			}
			if cb.UnitPrice != nil {
				errs = append(errs, fmt.Sprintf("instruction %d: duplicate SetComputeUnitPrice", i))
				continue
			}
			price := binary.LittleEndian.Uint64(ix.Data[1:9])
			cb.UnitPrice = &price
			if v.cfg.MaxComputeUnitPrice > 0 && price > v.cfg.MaxComputeUnitPrice {
				errs = append(errs, fmt.Sprintf("instruction %d: compute unit price %d exceeds maximum %d micro-lamports",
					i, price, v.cfg.MaxComputeUnitPrice))
			}
		}
	}
	return cb, errs
}
