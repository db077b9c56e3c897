// Package identity resolves the name a user is shown as across listings,
// presence, and document history.
package identity

import "strings"

// DisplayName picks the first non-empty candidate in priority order:
// the name attached to the account, then the profile name, then the
// local part of the email address. A user with none of those is shown
// as Anonymous.
//
// Candidates are not trimmed before the emptiness check, so a name
// consisting only of whitespace still wins over later candidates.
func DisplayName(accountName, profileName, email string) string {
	if accountName != "" {
		return accountName
	}
	if profileName != "" {
		return profileName
	}
	if local := emailLocalPart(email); local != "" {
		return local
	}
	return "Anonymous"
}

func emailLocalPart(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}
