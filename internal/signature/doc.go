// Package signature verifies that webhook deliveries come from the sender
// they claim and have not been replayed.
//
// Each sender is described by a Provider: which header carries the signature,
// where the timestamp comes from, the HMAC algorithm and encoding, and how the
// signed payload is rebuilt from the raw body. Stripe, GitHub, Slack, Shopify
// and Twilio are built in; anything else is a custom provider configured with
// hooks or templates.
//
// # Verification sequence
//
// Verifier.Verify stops at the first failing step:
//
//  1. resolve the secret (route override, then the global map)
//  2. require the raw body
//  3. resolve the provider
//  4. read the single signature header value
//  5. read the timestamp, from its own header or the signature header
//  6. reject stale timestamps when replay protection is on
//  7. compare the signature in constant time
//  8. claim the nonce provider:signature:millis when replay protection is on
//  9. build the Result and run the OnVerified hook
//
// Failures are *VerificationError values. Use errors.Is with the package
// sentinels to branch on the kind, and StatusCode for the HTTP response.
//
// # Usage
//
//	verifier := signature.NewVerifier(signature.Settings{
//	    Secrets: map[string]string{"stripe": os.Getenv("STRIPE_WEBHOOK_SECRET")},
//	    Replay:  signature.ReplaySettings{Enabled: true, Tolerance: 5 * time.Minute},
//	}, signature.WithGuard(replay.NewGuard(store, 5*time.Minute)))
//
//	result, err := verifier.Verify(ctx, &signature.Request{
//	    RouteOptions: signature.RouteOptions{Provider: "stripe"},
//	    Body:         rawBody,
//	    Headers:      r.Header,
//	})
//
// Custom provider from a route definition:
//
//	{
//	  "name": "acme",
//	  "signature_header": "X-Acme-Signature",
//	  "algorithm": "sha256",
//	  "signature_format": "t=${timestamp},v1=${signature}",
//	  "payload_template": "${timestamp}.${body}",
//	  "event_type_field": "event"
//	}
//
// The body handed to Verify must be the exact bytes received. Any re-encoding
// invalidates every signature.
package signature
