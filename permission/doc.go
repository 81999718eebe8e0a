// Package permission defines the ordered role hierarchy and the route policy
// used by authorization checks.
//
// # Roles
//
// USER (1) < BLOG_EDITOR (2) < ADMIN (3). [HasRole] is a rank comparison, so a
// higher role satisfies any lower requirement. Unknown roles rank 0 and never
// satisfy anything.
//
// # Route policy
//
// [RoutePolicy] holds public routes and protected prefixes. Public routes match
// exactly or as a path-segment prefix. Any other path needs a session.
// Protected prefixes match with a plain string prefix and the first registered
// rule wins.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authcore, jwt, or session.
package permission
