package tokenauth

import "log"

// TokenNotifier delivers out-of-band token challenges to users, e.g. an
// emailed nonce. Applications provide their own implementation.
type TokenNotifier interface {
	NotifyTokenCreated(email, tokenType, challenge string) error
}

// ConsoleTokenNotifier is a development implementation that logs challenges
// to the console
type ConsoleTokenNotifier struct{}

func (c *ConsoleTokenNotifier) NotifyTokenCreated(email, tokenType, challenge string) error {
	log.Printf("\n=== TOKEN: %s ===", tokenType)
	log.Printf("To: %s", email)
	log.Printf("Challenge: %s", challenge)
	log.Printf("===========================\n")
	return nil
}
