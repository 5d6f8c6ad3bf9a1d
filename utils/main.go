package utils

import "regexp"

// usernameSuffixRegexp is a regular expression that can be used to remove suffixes from usernames.
var usernameSuffixRegexp = regexp.MustCompile("@.*$")

// RemoveUsernameSuffix removes the suffix from a username. Some CyVerse products forward qualified usernames, so the
// suffix is removed in order to ensure that the same principal owns the same resources regardless of which product
// made the request.
func RemoveUsernameSuffix(username string) string {
	return usernameSuffixRegexp.ReplaceAllString(username, "")
}
