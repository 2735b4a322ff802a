package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Challenge describes an HTTP challenge (status + WWW-Authenticate header).
type Challenge struct {
	Status          int
	Error           string
	Description     string
	WWWAuthenticate string
}

// NewAuthenticationRequired builds a challenge for a request that presented
// no credentials at all. resourceMetadata, when set, is the URL of the
// protected resource metadata document (RFC 9728).
func NewAuthenticationRequired(realm, resourceMetadata string) *Challenge {
	return &Challenge{
		Status:          http.StatusUnauthorized,
		Error:           "unauthorized",
		Description:     "authentication required",
		WWWAuthenticate: buildBearerChallenge(realm, resourceMetadata, "", ""),
	}
}

// NewInvalidTokenChallenge builds a challenge indicating the presented
// bearer token was rejected. The description is deliberately generic.
func NewInvalidTokenChallenge(realm, resourceMetadata string) *Challenge {
	const desc = "the access token is invalid"
	return &Challenge{
		Status:          http.StatusUnauthorized,
		Error:           "invalid_token",
		Description:     desc,
		WWWAuthenticate: buildBearerChallenge(realm, resourceMetadata, "invalid_token", desc),
	}
}

// buildBearerChallenge formats
//
//	Bearer realm="<realm>", resource_metadata="<url>", error="...", error_description="..."
//
// omitting empty attributes.
func buildBearerChallenge(realm, resourceMetadata, errCode, errDesc string) string {
	pieces := make([]string, 0, 4)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, quote(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, quote(resourceMetadata)))
	}
	if errCode != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, quote(errCode)))
	}
	if errDesc != "" {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, quote(errDesc)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
