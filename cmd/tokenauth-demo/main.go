// A small host app that mounts the token authentication routes over the
// in-memory store. Useful for poking at the API with curl.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/keramos/tokenauth"
	"github.com/keramos/tokenauth/stores"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	account := flag.String("account", "demo-account", "account id to seed")
	email := flag.String("email", "demo@example.com", "email for the seeded account")
	flag.Parse()

	store := stores.NewMemStore(stores.MemStoreConfig{
		Issuer:   "tokenauth-demo",
		Notifier: &tokenauth.ConsoleTokenNotifier{},
	})
	store.AddAccount(*account, *email)

	auth := tokenauth.New("tokenauth-demo")
	auth.Tokens = store
	auth.Clients = store
	auth.Accounts = store
	// plain http for local development
	auth.ClientIDCookie = tokenauth.CookieConfig{Name: "cid", MaxAge: auth.ClientIDCookie.MaxAge, HTTPOnly: true}
	auth.EnsureDefaults()

	log.Printf("Seeded account %q (%s)", *account, *email)
	log.Printf("Listening on %s, routes under %s", *addr, auth.Routes.BasePath)
	log.Fatal(http.ListenAndServe(*addr, auth.Handler()))
}
