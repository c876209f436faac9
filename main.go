// Webhook verifier authenticates inbound webhook deliveries from Stripe,
// GitHub, Slack, Shopify, Twilio and custom senders and rejects replays.
//
// @title Webhook Verifier API
// @version 1.0.0
// @description Verifies webhook signatures and rejects replayed deliveries.
// @BasePath /
package main

import (
	"log"

	_ "webhook-verifier/docs"
	"webhook-verifier/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
