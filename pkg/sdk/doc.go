// Package sdk is the storefront session layer: credential sources, the
// Session and its teardown, role resolution and route admission.
//
// Outbound calls get credentials and 401/403 handling from one of two
// equivalent front ends over the same Session:
//
//   - NewHTTPClient, a CredentialTransport inside a GuardTransport, for plain
//     HTTP and for Connect clients built on that *http.Client.
//   - NewCredentialInterceptor and NewGuardInterceptor, for Connect clients
//     that bring their own transport, passed as
//     connect.WithInterceptors(NewCredentialInterceptor(s, log), NewGuardInterceptor(s, nav, log)).
//
// RoleResolver and RouteGuard decide what the current principal may open.
package sdk
