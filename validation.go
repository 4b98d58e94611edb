package main

import "unicode"

const (
	RoleListener = "listener"
	RoleArtist   = "artist"
)

func isValidRole(role string) bool {
	return role == RoleListener || role == RoleArtist
}

func isValidIdentity(identity string) bool {
	if identity == "" || len(identity) > 64 {
		return false
	}

	for _, r := range identity {
		if r == '-' || r == '_' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}

	return true
}

func isValidContentID(contentID string) bool {
	// Content references come from the metadata service and share the
	// identity character set.
	return isValidIdentity(contentID)
}
