package models

// Module is a physical service counter. Modules are configured at deployment
// time; the API only reads them.
type Module struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
