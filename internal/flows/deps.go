package flows

// Deps groups the dependency sets of every flow. The engine builds it once
// at construction and hands the matching set to each Run function.
type Deps struct {
	Login             LoginDeps
	Session           SessionDeps
	PasswordReset     PasswordResetDeps
	EmailVerification EmailVerificationDeps
}
