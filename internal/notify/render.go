// ABOUTME: Template rendering for membership and invitation emails.
// ABOUTME: Templates parsed once at init from embedded FS; rendered per job.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltpl "html/template"
	"strings"
	texttpl "text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var funcMap = map[string]any{
	"roleLabel": roleLabel,
}

// Parsed templates, one per file to avoid {{define}} namespace collisions.
var (
	memberAddedHTML *htmltpl.Template
	memberAddedText *texttpl.Template
	invitationHTML  *htmltpl.Template
	invitationText  *texttpl.Template
)

func init() {
	memberAddedHTML = htmltpl.Must(htmltpl.New("").Funcs(htmltpl.FuncMap(funcMap)).ParseFS(templateFS, "templates/member_added.html.tmpl"))
	memberAddedText = texttpl.Must(texttpl.New("").Funcs(texttpl.FuncMap(funcMap)).ParseFS(templateFS, "templates/member_added.txt.tmpl"))
	invitationHTML = htmltpl.Must(htmltpl.New("").Funcs(htmltpl.FuncMap(funcMap)).ParseFS(templateFS, "templates/invitation.html.tmpl"))
	invitationText = texttpl.Must(texttpl.New("").Funcs(texttpl.FuncMap(funcMap)).ParseFS(templateFS, "templates/invitation.txt.tmpl"))
}

// RenderMemberAdded renders the "added to organization" email. Returns subject, HTML body, and plaintext body.
func RenderMemberAdded(data MemberAddedData) (string, string, string, error) {
	return renderPair(memberAddedHTML, memberAddedText, data)
}

// RenderInvitation renders an invitation email. Returns subject, HTML body, and plaintext body.
func RenderInvitation(data InvitationData) (string, string, string, error) {
	return renderPair(invitationHTML, invitationText, data)
}

func renderPair(html *htmltpl.Template, text *texttpl.Template, data any) (string, string, string, error) {
	var subjectBuf bytes.Buffer
	if err := text.ExecuteTemplate(&subjectBuf, "subject", data); err != nil {
		return "", "", "", fmt.Errorf("render subject: %w", err)
	}
	subject := sanitizeSubject(subjectBuf.String())

	var htmlBuf bytes.Buffer
	if err := html.ExecuteTemplate(&htmlBuf, "body", data); err != nil {
		return "", "", "", fmt.Errorf("render html: %w", err)
	}

	var textBuf bytes.Buffer
	if err := text.ExecuteTemplate(&textBuf, "body", data); err != nil {
		return "", "", "", fmt.Errorf("render text: %w", err)
	}

	return subject, htmlBuf.String(), textBuf.String(), nil
}

// sanitizeSubject strips CR/LF to prevent email header injection.
func sanitizeSubject(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
