package secret

import "time"

// Secret is a named credential owned by a tenant. Value holds ciphertext at
// rest when the secrets service runs with a cipher; plaintext only transits
// through mapping execution and is redacted everywhere it could surface.
type Secret struct {
	ID        string
	TenantID  string
	Name      string
	Value     string `json:"-"`
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
