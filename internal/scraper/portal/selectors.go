package portal

// Default selectors and label texts for the QRIS merchant portal.
// The portal is an SPA without stable ids on every control, so each field
// carries a selector plus a visible-label fallback; config can override
// both without a rebuild when the portal shifts under us.
const (
	// Login page
	SelectorLoginForm     = "form"
	SelectorUsernameInput = `input[formcontrolname="username"]`
	SelectorPasswordInput = `input[formcontrolname="password"]`
	SelectorSubmitButton  = `button[type="submit"]`

	// Label fallbacks (trimmed text content)
	LabelUsername = "Username"
	LabelPassword = "Password"
	LabelSubmit   = "Masuk"

	// Landing page call-to-action that reveals the login form on some
	// portal variants. Empty default in config means "use this".
	LabelCTA = "Login"
)

// submitCandidates is the last-resort submit strategy: generic selectors
// filtered by visible button text.
var submitCandidates = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`button`,
}

// postLoginPaths mark a settled post-login URL. Seeing any of them is a
// strong readiness signal; seeing none is tolerated.
var postLoginPaths = []string{
	"/dashboard",
	"/home",
	"/riwayatTransaksi",
}
