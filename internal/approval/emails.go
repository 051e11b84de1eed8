package approval

import (
	"fmt"
	"html"

	"github.com/jspaans/permitdesk/internal/permit"
)

// Minimal bodies, the styled templates live with the rendering layer.
// Holder names, recipient names and comments are user provided, so the
// HTML bodies escape them.

func requestHTMLBody(p permit.Permit, name, approvalURL string) string {
	return fmt.Sprintf(
		"<p>Dear %s,</p><p>Permit %s (%s) is awaiting your approval.</p><p><a href=%q>Review this permit</a></p>",
		html.EscapeString(name), html.EscapeString(p.Ref), html.EscapeString(p.HolderName), approvalURL,
	)
}

func requestTextBody(p permit.Permit, name, approvalURL string) string {
	return fmt.Sprintf(
		"Dear %s,\n\nPermit %s (%s) is awaiting your approval.\n\nReview this permit: %s\n",
		name, p.Ref, p.HolderName, approvalURL,
	)
}

func outcomeWord(action Action) string {
	if action == ActionApprove {
		return "approved"
	}
	return "rejected"
}

func outcomeSubject(p permit.Permit, action Action) string {
	return fmt.Sprintf("Permit %s has been %s", p.Ref, outcomeWord(action))
}

func outcomeHTMLBody(p permit.Permit, link Link, action Action, comment string) string {
	body := fmt.Sprintf(
		"<p>Dear %s,</p><p>Your permit %s has been %s by %s.</p>",
		html.EscapeString(p.HolderName), html.EscapeString(p.Ref), outcomeWord(action), html.EscapeString(link.RecipientName),
	)
	if comment != "" {
		body += fmt.Sprintf("<p>Comment: %s</p>", html.EscapeString(comment))
	}
	return body
}

func outcomeTextBody(p permit.Permit, link Link, action Action, comment string) string {
	body := fmt.Sprintf(
		"Dear %s,\n\nYour permit %s has been %s by %s.\n",
		p.HolderName, p.Ref, outcomeWord(action), link.RecipientName,
	)
	if comment != "" {
		body += fmt.Sprintf("\nComment: %s\n", comment)
	}
	return body
}
