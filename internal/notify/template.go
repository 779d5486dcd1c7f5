// ABOUTME: Template data structs for membership and invitation emails.
// ABOUTME: Role tokens are rendered through roleLabel so templates never print raw tokens.
package notify

import "time"

// MemberAddedData is the context passed to member_added templates.
type MemberAddedData struct {
	OrgName  string
	Role     string
	LoginURL string
}

// InvitationData is the context passed to invitation templates.
type InvitationData struct {
	OrgName   string
	Role      string
	AcceptURL string
	ExpiresAt time.Time
}

// roleLabel returns the display name for a role token.
func roleLabel(role string) string {
	switch role {
	case "secretario":
		return "Secretário"
	case "gestor":
		return "Gestor"
	case "viewer":
		return "Visualizador"
	default:
		return role
	}
}
