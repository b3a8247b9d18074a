package ledger

import "fmt"

// TokenAsset is the asset name of the synthetic token in journal entries.
const TokenAsset = "EQA"

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopePool AccountScope = iota
	AccountScopeHolder
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Pool sub-types
	SubTypeCollateral AccountSubType = iota

	// Holder sub-types
	SubTypeTokenBalance

	// System sub-types
	SubTypeIssuance

	// External sub-types
	SubTypeBridge
	SubTypeAdjustment
)

// AccountKey addresses one side of a journal entry.
type AccountKey struct {
	Scope   AccountScope
	Entity  string // holder address; empty for pool/system/external
	SubType AccountSubType
	Asset   string
}

// NewPoolCollateralKey is the protocol's locked balance for a source.
func NewPoolCollateralKey(source CollateralSource) AccountKey {
	return AccountKey{Scope: AccountScopePool, SubType: SubTypeCollateral, Asset: source.String()}
}

// NewBridgeKey is the external counterparty of deposits and withdrawals.
func NewBridgeKey(source CollateralSource) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: SubTypeBridge, Asset: source.String()}
}

// NewAdjustmentKey is the external counterparty of admin collateral overwrites.
func NewAdjustmentKey(source CollateralSource) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: SubTypeAdjustment, Asset: source.String()}
}

func NewHolderKey(holder string) AccountKey {
	return AccountKey{Scope: AccountScopeHolder, Entity: holder, SubType: SubTypeTokenBalance, Asset: TokenAsset}
}

// NewIssuanceKey mirrors outstanding supply: its balance is -total_supply.
func NewIssuanceKey() AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: SubTypeIssuance, Asset: TokenAsset}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopePool:
		return fmt.Sprintf("pool:%s:%s", k.subTypeName(), k.Asset)
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s:%s", k.Entity, k.subTypeName(), k.Asset)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Asset)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeTokenBalance:
		return "balance"
	case SubTypeIssuance:
		return "issuance"
	case SubTypeBridge:
		return "bridge"
	case SubTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}
