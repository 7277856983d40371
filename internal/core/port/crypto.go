package port

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// AccountCodeGenerator issues dealer codes for newly promoted accounts.
type AccountCodeGenerator interface {
	Next() string
}
