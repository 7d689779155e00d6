package txvalidator

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

var (
	SystemProgramID        = solana.SystemProgramID
	TokenProgramID         = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022ProgramID     = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
)

// System program instruction discriminators (u32 little-endian)
const (
	sysCreateAccount         uint32 = 0
	sysAssign                uint32 = 1
	sysTransfer              uint32 = 2
	sysCreateAccountWithSeed uint32 = 3
	sysAdvanceNonceAccount   uint32 = 4
	sysWithdrawNonceAccount  uint32 = 5
	sysAuthorizeNonceAccount uint32 = 7
	sysAllocate              uint32 = 8
	sysAllocateWithSeed      uint32 = 9
	sysAssignWithSeed        uint32 = 10
	sysTransferWithSeed      uint32 = 11
)

// SPL Token instruction discriminators (u8), shared by Token-2022
const (
	tokTransfer        uint8 = 3
	tokApprove         uint8 = 4
	tokRevoke          uint8 = 5
	tokSetAuthority    uint8 = 6
	tokMintTo          uint8 = 7
	tokBurn            uint8 = 8
	tokCloseAccount    uint8 = 9
	tokTransferChecked uint8 = 12
	tokApproveChecked  uint8 = 13
	tokMintToChecked   uint8 = 14
	tokBurnChecked     uint8 = 15
)

// position is one account slot of an instruction that must not hold a pool wallet
type position struct {
	index int
	role  string
}

// rule describes a dangerous opcode. When trailingSigners is true every account
// after the last listed position is treated as a multisig signer and checked too.
type rule struct {
	name            string
	positions       []position
	trailingSigners bool
}

var systemRules = map[uint32]rule{
	sysCreateAccount:         {name: "CreateAccount", positions: []position{{0, "funding account"}}},
	sysAssign:                {name: "Assign", positions: []position{{0, "assigned account"}}},
	sysTransfer:              {name: "Transfer", positions: []position{{0, "source"}}},
	sysCreateAccountWithSeed: {name: "CreateAccountWithSeed", positions: []position{{0, "funding account"}, {2, "base"}}},
	sysWithdrawNonceAccount:  {name: "WithdrawNonceAccount", positions: []position{{4, "nonce authority"}}},
	sysAuthorizeNonceAccount: {name: "AuthorizeNonceAccount", positions: []position{{1, "nonce authority"}}},
	sysAllocate:              {name: "Allocate", positions: []position{{0, "allocated account"}}},
	sysAllocateWithSeed:      {name: "AllocateWithSeed", positions: []position{{1, "base"}}},
	sysAssignWithSeed:        {name: "AssignWithSeed", positions: []position{{1, "base"}}},
	sysTransferWithSeed:      {name: "TransferWithSeed", positions: []position{{0, "source"}, {1, "base"}}},
}

var tokenRules = map[uint8]rule{
	tokTransfer:        {name: "Transfer", positions: []position{{2, "authority"}}, trailingSigners: true},
	tokApprove:         {name: "Approve", positions: []position{{2, "authority"}}, trailingSigners: true},
	tokRevoke:          {name: "Revoke", positions: []position{{1, "authority"}}, trailingSigners: true},
	tokSetAuthority:    {name: "SetAuthority", positions: []position{{1, "authority"}}, trailingSigners: true},
	tokMintTo:          {name: "MintTo", positions: []position{{2, "authority"}}, trailingSigners: true},
	tokBurn:            {name: "Burn", positions: []position{{2, "authority"}}, trailingSigners: true},
	tokCloseAccount:    {name: "CloseAccount", positions: []position{{0, "source"}, {2, "authority"}}, trailingSigners: true},
	tokTransferChecked: {name: "TransferChecked", positions: []position{{3, "authority"}}, trailingSigners: true},
	tokApproveChecked:  {name: "ApproveChecked", positions: []position{{3, "authority"}}, trailingSigners: true},
	tokMintToChecked:   {name: "MintToChecked", positions: []position{{2, "authority"}}, trailingSigners: true},
	tokBurnChecked:     {name: "BurnChecked", positions: []position{{2, "authority"}}, trailingSigners: true},
}

// lookupRule resolves the program family and opcode of an instruction to its rule
func lookupRule(program solana.PublicKey, data []byte) (family string, r rule, ok bool) {
	switch {
	case program.Equals(SystemProgramID):
		if len(data) < 4 {
			return "", rule{}, false
		}
		r, ok = systemRules[binary.LittleEndian.Uint32(data)]
		return "System", r, ok
	case program.Equals(TokenProgramID):
		if len(data) < 1 {
			return "", rule{}, false
		}
		r, ok = tokenRules[data[0]]
		return "Token", r, ok
	case program.Equals(Token2022ProgramID):
		if len(data) < 1 {
			return "", rule{}, false
		}
		r, ok = tokenRules[data[0]]
		return "Token-2022", r, ok
	}
	return "", rule{}, false
}

// checkedIndexes expands a rule into the instruction-local account positions to inspect
func (r rule) checkedIndexes(numAccounts int) []position {
	out := make([]position, 0, len(r.positions))
	last := -1
	for _, p := range r.positions {
		out = append(out, p)
		if p.index > last {
			last = p.index
		}
	}
	if r.trailingSigners {
		for i := last + 1; i < numAccounts; i++ {
			out = append(out, position{i, "multisig signer"})
		}
	}
	return out
}
