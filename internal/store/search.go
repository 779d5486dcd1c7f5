// ABOUTME: Dynamic query builders for the searchable member and invitation listings.
// ABOUTME: squirrel assembles the optional ILIKE filters; search terms are matched literally.
package store

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// escapeLike escapes ILIKE metacharacters (%, _, \) so they are treated as
// literal characters in PostgreSQL ILIKE patterns.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// containsAny matches rows where any of cols contains term.
func containsAny(term string, cols ...string) sq.Or {
	pattern := "%" + escapeLike(term) + "%"
	or := make(sq.Or, 0, len(cols))
	for _, c := range cols {
		or = append(or, sq.ILike{c: pattern})
	}
	return or
}

func orgMembersQuery(orgID uuid.UUID, search string) (string, []any, error) {
	sb := psql.
		Select("u.id AS user_id", "u.name", "u.email", "u.is_active", "m.role", "m.created_at").
		From("memberships m").
		Join("users u ON u.id = m.user_id").
		Where(sq.Eq{"m.organization_id": orgID}).
		Where(sq.NotEq{"u.global_role": GlobalRoleSuperAdmin}).
		OrderBy("u.name")
	if search = strings.TrimSpace(search); search != "" {
		sb = sb.Where(containsAny(search, "u.name", "u.email"))
	}
	return sb.ToSql()
}

func pendingInvitationsQuery(orgID uuid.UUID, search string) (string, []any, error) {
	sb := psql.
		Select(invitationColumns).
		From("invitations").
		Where(sq.Eq{"organization_id": orgID, "status": InvitationPending}).
		OrderBy("created_at DESC")
	if search = strings.TrimSpace(search); search != "" {
		sb = sb.Where(containsAny(search, "email"))
	}
	return sb.ToSql()
}
