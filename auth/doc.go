// Package auth provides bearer token (JWT) verification for services that
// delegate authentication to an external OpenID Connect provider.
//
// The public surface stays small: an Authenticator validates an incoming
// bearer token string and returns a UserInfo (or an error wrapping
// ErrUnauthorized). Callers such as the guard package are responsible for
// extracting the token from the request and turning failures into HTTP
// challenges.
//
// # Constructing an Authenticator
//
// NewFromDiscovery learns the issuer's JWKS location through OpenID Connect
// discovery; NewFromKeyStore uses any keystore.KeyStore directly;
// SecurityConfig.NewAuthenticator picks a key source from configuration.
//
//	ctx := context.Background()
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://api.example",
//	    auth.WithLeeway(2*time.Minute),
//	)
//	if err != nil { log.Fatal(err) }
//
//	ui, err := authn.CheckAuthentication(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* 401 */ }
//
// Algorithms & Clock Skew
//
// By default only RS256 is accepted. Use WithAllowedAlgs to broaden the set.
// WithLeeway adds tolerance for clock skew when validating exp/iat/nbf.
//
// # Errors
//
// Every failure (bad signature, expiry, wrong audience or issuer, malformed
// token) surfaces as ErrUnauthorized. The wrapped error keeps the detail for
// logging, but callers should not branch on it.
package auth
