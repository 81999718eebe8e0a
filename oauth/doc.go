// Package oauth wraps golang.org/x/oauth2 providers behind a small registry
// that performs the authorization-code exchange and the userinfo fetch.
//
// The registry returns provider-neutral [UserInfo] values. It never creates
// accounts or sessions; callers hand the result to Engine.LoginWithOAuth.
package oauth
