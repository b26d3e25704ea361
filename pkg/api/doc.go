// Package api exposes lumen's HTTP surface.
//
// # Routes
//
//	POST   /api/webhooks/stripe               Stripe signature
//	POST   /api/generate                      user, multipart image + prompt + model
//	POST   /api/create-subscription-checkout  user, {"plan"} or {"priceId"}
//	POST   /api/create-portal-session         user
//	GET    /api/projects                      user
//	DELETE /api/projects/{id}                 user
//	GET    /api/subscription                  user
//	GET    /api/models                        public
//
// Every error is answered as {"error": "...", "details": "..."} with the
// message the web client expects. Handlers translate package sentinel errors
// with errors.Is / errors.As and never leak internal error text, except for
// Stripe messages which are shown to the user verbatim.
package api
