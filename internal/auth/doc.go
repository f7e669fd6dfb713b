// Package auth provides bearer-token authentication for the HTTP tool transport.
//
// Tokens are HS256 JWTs signed with auth.jwt_secret. The "sub" claim names the
// calling client and the optional "scope" claim is a space-separated list;
// the "admin" scope is required for destructive tools over HTTP.
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	handler := auth.HTTPAuthMiddleware(verifier, logger)(toolHandler)
//
// The stdio transport carries no token; requests arriving that way have no
// AuthContext and are treated as the local operator.
package auth
