// Package abci implements the application state machine (spec §4.4): a
// stack-based transaction executor, the chain state it mutates, the
// pending-block buffer a consensus leader draws from, and the block/chain
// state persistence layout.
package abci

// Address is an opaque account identifier, the string form of a taproot
// (or any other) output address.
type Address string

// Account is one address' balance. The zero value is a fresh account with
// a zero balance.
type Account struct {
	Balance uint64
}

// ChainState is the full application state: account balances, deposit
// intents, and the current block height.
type ChainState struct {
	Accounts       map[Address]*Account
	DepositIntents *DepositIntentIndex
	BlockHeight    uint64
}

// NewChainState returns an empty chain state at height 0.
func NewChainState() *ChainState {
	return &ChainState{
		Accounts:       make(map[Address]*Account),
		DepositIntents: NewDepositIntentIndex(),
		BlockHeight:    0,
	}
}

// clone returns a deep-enough copy of s so a transaction's delta can be
// computed and discarded without mutating the live state on failure (spec
// §4.4: "execution is all-or-nothing... the caller discards the state
// delta" on error).
func (s *ChainState) clone() *ChainState {
	accounts := make(map[Address]*Account, len(s.Accounts))
	for addr, acct := range s.Accounts {
		a := *acct
		accounts[addr] = &a
	}
	return &ChainState{
		Accounts:       accounts,
		DepositIntents: s.DepositIntents.clone(),
		BlockHeight:    s.BlockHeight,
	}
}

// BalanceOf returns addr's balance, 0 if the account has never been
// credited. Exported for read-only callers outside the package (e.g.
// CheckBalance and withdrawal proposal).
func (s *ChainState) BalanceOf(addr Address) uint64 {
	return s.balanceOf(addr)
}

func (s *ChainState) balanceOf(addr Address) uint64 {
	acct, ok := s.Accounts[addr]
	if !ok {
		return 0
	}
	return acct.Balance
}

func (s *ChainState) creditAccount(addr Address, amount uint64) {
	acct, ok := s.Accounts[addr]
	if !ok {
		acct = &Account{}
		s.Accounts[addr] = acct
	}
	acct.Balance = saturatingAdd(acct.Balance, amount)
}

func (s *ChainState) debitAccount(addr Address, amount uint64) {
	acct, ok := s.Accounts[addr]
	if !ok {
		return
	}
	acct.Balance = saturatingSub(acct.Balance, amount)
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a { // overflow
		return ^uint64(0)
	}
	return sum
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
