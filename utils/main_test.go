package utils

import "testing"

func TestRemoveUsernameSuffix(t *testing.T) {
	tests := map[string]string{
		"alice":                         "alice",
		"alice@iplantcollaborative.org": "alice",
		"bob@example@org":               "bob",
		"":                              "",
	}
	for username, expected := range tests {
		if actual := RemoveUsernameSuffix(username); actual != expected {
			t.Errorf("RemoveUsernameSuffix(%q): got %q, want %q", username, actual, expected)
		}
	}
}
