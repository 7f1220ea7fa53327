package discussion

import "fmt"

// Kind identifies one logical collection held by the cache.
// The set is closed; every switch over Kind is expected to be exhaustive.
type Kind int

const (
	KindMessageStructures Kind = iota
	KindIdeas
	KindExtracts
	KindUsers
	KindCurrentUser
	KindPreferences
)

// Kinds lists every collection kind in declaration order
var Kinds = []Kind{
	KindMessageStructures,
	KindIdeas,
	KindExtracts,
	KindUsers,
	KindCurrentUser,
	KindPreferences,
}

func (k Kind) String() string {
	switch k {
	case KindMessageStructures:
		return "message_structures"
	case KindIdeas:
		return "ideas"
	case KindExtracts:
		return "extracts"
	case KindUsers:
		return "users"
	case KindCurrentUser:
		return "current_user"
	case KindPreferences:
		return "preferences"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Bootstrapped reports whether the kind is seeded from the bootstrap payload
// instead of a network fetch.
func (k Kind) Bootstrapped() bool {
	return k == KindCurrentUser || k == KindPreferences
}

// KindForType maps a wire "@type" discriminator to the collection that owns it.
func KindForType(wireType string) (Kind, error) {
	switch wireType {
	case "Post", "AssemblPost", "SynthesisPost", "Email", "IdeaProposalPost":
		return KindMessageStructures, nil
	case "Idea", "RootIdea":
		return KindIdeas, nil
	case "Extract":
		return KindExtracts, nil
	case "AgentProfile", "User":
		return KindUsers, nil
	default:
		return 0, fmt.Errorf("unknown item type %q", wireType)
	}
}
