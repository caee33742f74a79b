// Package client is the Go client for the Temeva licensing service.
//
// It logs in once, keeps the bearer token for the life of the Client, and
// sends GET, PUT, POST and DELETE requests to service endpoints, returning
// the decoded reply.
//
// # Logging in
//
// New resolves the default organization (unless one is given), exchanges the
// credentials for a bearer token and checks the platform version:
//
//	c, err := client.New(ctx, "user@example.com", secret,
//	    client.WithOrganizationID("d2b1..."),
//	    client.WithLogger(logger),
//	)
//	if err != nil {
//	    var authErr *client.AuthError
//	    if errors.As(err, &authErr) {
//	        log.Fatalf("login rejected: HTTP %d", authErr.StatusCode)
//	    }
//	    log.Fatal(err)
//	}
//
// # Calling endpoints
//
// Endpoint paths are relative to /api; the prefix and leading slash are added
// when missing, so "lic/version", "/lic/version" and "/api/lic/version" all
// reach the same resource:
//
//	resp, err := c.Get(ctx, "/lic/version")
//	fmt.Println(resp.Map()["build_number"])
//
//	resp, err = c.Get(ctx, "/lic/checkouts", client.WithParams(map[string]any{
//	    "organization_id": c.OrganizationID(),
//	    "application_id":  "stc",
//	}))
//
//	resp, err = c.Post(ctx, "/inv/maps", client.WithFile("map.json"))
//
// The reply is decoded by content type: text becomes a string, JSON a decoded
// value, anything else stays raw bytes. See Response.
//
// # Errors
//
// Non-2xx replies return *HTTPError carrying the status and body. Network
// failures return *TransportError, which unwraps to the transport's error.
// Login failures return *LookupError or *AuthError.
//
// A Client is not safe for concurrent use.
package client
