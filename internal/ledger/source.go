package ledger

import "fmt"

// CollateralSource identifies where a slice of the collateral pool was bridged from.
// The set is closed: adding a source means adding a constant here and a case
// to every switch below.
type CollateralSource int32

const (
	SourceAxelarUSDC CollateralSource = iota
	SourceNobleUSDC

	numSources
)

// AllSources returns every source in canonical (hashing/persistence) order.
func AllSources() []CollateralSource {
	sources := make([]CollateralSource, 0, numSources)
	for s := CollateralSource(0); s < numSources; s++ {
		sources = append(sources, s)
	}
	return sources
}

func (s CollateralSource) String() string {
	switch s {
	case SourceAxelarUSDC:
		return "axelar_usdc"
	case SourceNobleUSDC:
		return "noble_usdc"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Gateway names the bridge a source arrives through.
func (s CollateralSource) Gateway() string {
	switch s {
	case SourceAxelarUSDC:
		return "axelar"
	case SourceNobleUSDC:
		return "noble"
	default:
		return ""
	}
}

func (s CollateralSource) Valid() bool {
	return s >= 0 && s < numSources
}

// ParseSource maps the wire key ("axelar_usdc", "noble_usdc") to a source.
func ParseSource(key string) (CollateralSource, error) {
	switch key {
	case "axelar_usdc":
		return SourceAxelarUSDC, nil
	case "noble_usdc":
		return SourceNobleUSDC, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSource, key)
	}
}

func (s CollateralSource) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSource, int32(s))
	}
	return []byte(s.String()), nil
}

func (s *CollateralSource) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
