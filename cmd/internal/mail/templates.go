package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

// InvitationData fills the group invitation email.
type InvitationData struct {
	SiteName      string
	GroupName     string
	InviterPseudo string
	ActionURL     string
	// HasAccount selects the "log in" wording over the "create an account" one.
	HasAccount bool
}

// BuildInvitationEmail renders the group invitation email. The caller sets To.
func BuildInvitationEmail(data InvitationData) Message {
	if data.SiteName == "" {
		data.SiteName = "Spotline"
	}
	return Message{
		Subject: fmt.Sprintf("%s: you are invited to join %s", data.SiteName, data.GroupName),
		Text:    buildInvitationText(data),
		HTML:    buildInvitationHTML(data),
	}
}

func buildInvitationText(data InvitationData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s invited you to join the group %q on %s.\n\n", data.InviterPseudo, data.GroupName, data.SiteName)
	if data.HasAccount {
		buf.WriteString("Log in to accept or decline the invitation:\n")
	} else {
		buf.WriteString("Create your account with this email address, then log in to join the group:\n")
	}
	buf.WriteString(data.ActionURL + "\n\n")
	buf.WriteString("If you were not expecting this invitation, you can ignore this email.\n")
	return buf.String()
}

var invitationHTML = template.Must(template.New("invitation").Parse(invitationHTMLTemplate))

func buildInvitationHTML(data InvitationData) string {
	var buf bytes.Buffer
	_ = invitationHTML.Execute(&buf, data)
	return buf.String()
}

const invitationHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Group invitation</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #eef4f7;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #eef4f7;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px;">
          <tr>
            <td style="padding: 32px 32px 16px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #0e7490;">{{.SiteName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 24px; font-size: 16px; color: #374151; line-height: 1.5;">
                <strong>{{.InviterPseudo}}</strong> invited you to join the group <strong>{{.GroupName}}</strong>.
              </p>
              <p style="margin: 0 0 24px; font-size: 14px; color: #6b7280;">
                {{if .HasAccount}}Log in to accept or decline the invitation.{{else}}Create your account with this email address, then log in to join the group.{{end}}
              </p>
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center">
                    <a href="{{.ActionURL}}" style="display: inline-block; padding: 14px 32px; background-color: #0e7490; color: #ffffff; text-decoration: none; font-size: 16px; border-radius: 6px;">
                      {{if .HasAccount}}Open Spotline{{else}}Create my account{{end}}
                    </a>
                  </td>
                </tr>
              </table>
            </td>
          </tr>
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">
                If you were not expecting this invitation, you can ignore this email.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
