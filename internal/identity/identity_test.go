package identity

import "testing"

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name        string
		accountName string
		profileName string
		email       string
		want        string
	}{
		{"account name wins", "Avery", "Profile Avery", "avery@example.com", "Avery"},
		{"profile name next", "", "Profile Avery", "avery@example.com", "Profile Avery"},
		{"email local part next", "", "", "avery@example.com", "avery"},
		{"anonymous fallback", "", "", "", "Anonymous"},
		{"email without at sign", "", "", "not-an-email", "Anonymous"},
		{"email with empty local part", "", "", "@example.com", "Anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DisplayName(tt.accountName, tt.profileName, tt.email)
			if got != tt.want {
				t.Errorf("DisplayName(%q, %q, %q) = %q, want %q", tt.accountName, tt.profileName, tt.email, got, tt.want)
			}
		})
	}
}

// A whitespace-only account name is still a name; it must not fall through
// to the profile or email candidates.
func TestDisplayNameKeepsWhitespaceOnlyNames(t *testing.T) {
	got := DisplayName("   ", "Profile Avery", "avery@example.com")
	if got != "   " {
		t.Errorf("DisplayName with whitespace-only account name = %q, want %q", got, "   ")
	}
}
