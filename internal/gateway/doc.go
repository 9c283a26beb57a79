// Package gateway fetches pages of feed data from a trsst server.
//
// The main components are:
//
//   - [Fetcher]: the single-page fetch capability the scheduler and
//     renderers depend on
//   - [Client]: the HTTP implementation of Fetcher, with connection pooling,
//     body limits, optional rate limiting and an optional feed header cache
//   - [Page]: one parsed page and its continuation cursor
//   - [Pages] and [Pull]: pagination helpers, as a lazy sequence and as the
//     partial/final two-callback contract
//
// Failures never cross the pagination helpers as errors: a transport, status
// or parse failure is logged and surfaces as a nil page.
package gateway
