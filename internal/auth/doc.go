// Package auth handles bearer tokens for alumni-dm.
//
// The messaging client only needs to know who the current viewer is, which
// it reads from the session token with ViewerFromToken (the signature is the
// backend's concern). The development backend signs and verifies HS256
// tokens with JWTVerifier and authenticates API calls with
// HTTPAuthMiddleware, which stores the viewer in the request context:
//
//	viewer, ok := auth.FromContext(r.Context())
package auth
