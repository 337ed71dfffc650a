package rbac

// Role is the process-wide user role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Principal is the authenticated actor issuing a command.
type Principal struct {
	ID   string
	Role Role
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// IsOwner reports whether the principal owns the idea with the given owner id.
func IsOwner(p Principal, ownerID string) bool {
	return p.ID != "" && p.ID == ownerID
}

// CanReviewJoinRequests gates viewing and deciding an idea's join requests.
func CanReviewJoinRequests(p Principal, ownerID string) bool {
	return p.IsAdmin() || IsOwner(p, ownerID)
}

// CanManageIdea gates status changes and the long-running flag.
func CanManageIdea(p Principal, ownerID string) bool {
	return p.IsAdmin() || IsOwner(p, ownerID)
}

// CanUseBoard gates card creation and moves. Membership is the only
// capability that counts; the owner qualifies through the owner membership
// created with the idea.
func CanUseBoard(p Principal, isMember bool) bool {
	return p.ID != "" && isMember
}

// CanSubmitJoinRequest rejects members; the pending-request check is a
// store-level invariant.
func CanSubmitJoinRequest(p Principal, isMember bool) bool {
	return p.ID != "" && !isMember
}

// CanChangeUserRole gates process-wide role assignment.
func CanChangeUserRole(p Principal) bool {
	return p.IsAdmin()
}

// CanEditProfile allows a user to edit their own profile, or an admin any.
func CanEditProfile(p Principal, userID string) bool {
	return p.IsAdmin() || (p.ID != "" && p.ID == userID)
}
