package beacon

import "fmt"

// Tier is a location permission level
type Tier int

const (
	TierDenied Tier = iota
	TierWhileInUse
	TierAlways
)

// String returns the RPC name of the tier
func (t Tier) String() string {
	switch t {
	case TierDenied:
		return "denied"
	case TierWhileInUse:
		return "whileInUse"
	case TierAlways:
		return "always"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Satisfies reports whether a granted tier covers the required one.
// Always covers both WhileInUse and Always; Denied covers nothing.
func (t Tier) Satisfies(required Tier) bool {
	switch t {
	case TierAlways:
		return required == TierAlways || required == TierWhileInUse
	case TierWhileInUse:
		return required == TierWhileInUse
	default:
		return false
	}
}

// ParseTier parses an RPC tier name
func ParseTier(s string) (Tier, error) {
	switch s {
	case "denied":
		return TierDenied, nil
	case "whileInUse":
		return TierWhileInUse, nil
	case "always":
		return TierAlways, nil
	default:
		return TierDenied, Errorf(CodeInvalidArgument, "unknown permission tier %q", s)
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
