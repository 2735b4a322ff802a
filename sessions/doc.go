// Package sessions implements browser sessions established by the OpenID
// Connect login flow.
//
// A session is a strategy.User record persisted in a storage.Storage under
// the user's namespace, plus a cookie that names it. The cookie value is a
// compact JWS (EdDSA) over the session id, subject and expiry, so a forged
// or altered cookie is rejected before storage is consulted.
//
//	Create          -> store record, set cookie
//	Load            -> verify cookie, fetch record
//	IsAuthenticated -> Load succeeded; used as the guard's session check
//	Destroy         -> delete record, clear cookie
//	DestroyUser     -> delete every session of a subject
//
// Middleware attaches the loaded session to the request context, where
// handlers read it with FromContext or UserFromContext.
package sessions
