package model

// BenefitKind categorizes what a claimed drop awards.
type BenefitKind int

const (
	// BenefitUnknown is any distribution type the miner does not recognize.
	BenefitUnknown BenefitKind = iota
	// BenefitBadge awards a chat badge.
	BenefitBadge
	// BenefitEmote awards a chat emote.
	BenefitEmote
	// BenefitDirectEntitlement awards an in-game item delivered to a linked account.
	BenefitDirectEntitlement
)

// String returns the string representation of a BenefitKind.
func (k BenefitKind) String() string {
	switch k {
	case BenefitBadge:
		return "BADGE"
	case BenefitEmote:
		return "EMOTE"
	case BenefitDirectEntitlement:
		return "DIRECT_ENTITLEMENT"
	default:
		return "UNKNOWN"
	}
}

// ParseBenefitKind converts the API distribution type to a BenefitKind.
func ParseBenefitKind(s string) BenefitKind {
	switch s {
	case "BADGE":
		return BenefitBadge
	case "EMOTE":
		return BenefitEmote
	case "DIRECT_ENTITLEMENT":
		return BenefitDirectEntitlement
	default:
		return BenefitUnknown
	}
}

// Benefit is the concrete item awarded by a claimed drop.
type Benefit struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Kind     BenefitKind `json:"kind"`
	ImageURL string      `json:"image_url,omitempty"`
}
