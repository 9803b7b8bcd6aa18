// Package qris implements the direct HTTP replay side of the watcher: the
// portal's internal transaction-fetch contract, the captured header set it
// requires, and permissive decoding of the transaction envelope.
package qris

// Portal wire contract. The portal exposes no public API; these paths and
// parameter names were observed from the browser session and must be
// replayed exactly.
const (
	// Internal JSON endpoints.
	TransactionsPath = "/api/homeScreen/getDataTransaksi/auth/homeScreen"
	RefreshPath      = "/api/loginCtl/refresh"

	// TransactionsPathFragment identifies the transaction-fetch call in
	// observed network traffic during header capture.
	TransactionsPathFragment = "getDataTransaksi"

	// HistoryPagePath is the rendered page whose load triggers the portal's
	// own authenticated transaction-fetch call.
	HistoryPagePath = "/riwayatTransaksi"

	// Query parameters of the transaction-fetch endpoint. Dates are
	// compact YYYYMMDD, both bounds inclusive.
	QueryStartDate      = "startDate"
	QueryEndDate        = "endDate"
	QueryLimitValidated = "isLimitValidated"
)

// Authentication headers minted by the portal per browser session.
const (
	HeaderSecretID    = "secret-id"
	HeaderSecretKey   = "secret-key"
	HeaderSecretToken = "secret-token"
	HeaderSessionItem = "session-item"
)

// Browser-shaped defaults for replay calls built without a live capture
// (the one-shot CLI). A captured set carries the browser's real values.
const (
	DefaultAccept         = "application/json, text/plain, */*"
	DefaultAcceptLanguage = "id-ID,id;q=0.9,en-US;q=0.8,en;q=0.7"
	DefaultReferer        = "https://qris.bankmandiri.co.id/riwayatTransaksi"
	DefaultUserAgent      = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"
)
