// Package model holds the payloads carried on the typed pipeline.
package model

// Address is a postal address.
type Address struct {
	Country    string `json:"country"`
	City       string `json:"city"`
	Street     string `json:"street"`
	HomeNumber int64  `json:"homeNumber"`
	FlatNumber int64  `json:"flatNumber"`
}

// User is the value published to the user topic, keyed by a numeric message id.
type User struct {
	Age     int64   `json:"age"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

// DefaultAddress is attached to users submitted through the form endpoint.
func DefaultAddress() Address {
	return Address{
		Country:    "Russia",
		City:       "Moscow",
		Street:     "Lenina",
		HomeNumber: 2,
		FlatNumber: 100,
	}
}
