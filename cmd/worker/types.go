package main

// WebhookMessage is an ERP webhook relayed through the webhook queue.
type WebhookMessage struct {
	Topic       string `json:"topic"`
	Event       string `json:"event"`
	EventID     string `json:"eventId,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
	OrderNumber string `json:"orderNumber"`
}
