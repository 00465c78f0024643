package store

import "fmt"

// EnsureAccount creates the account row if absent and returns its id.
func (s *Store) EnsureAccount(sourceEmail, destinationUser string) (int64, error) {
	_, err := s.db.Exec(`
		INSERT INTO accounts(source_email, destination_user)
		VALUES (?, ?)
		ON CONFLICT(source_email) DO UPDATE SET destination_user = excluded.destination_user
	`, sourceEmail, destinationUser)
	if err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}
	row := s.db.QueryRow(`SELECT id FROM accounts WHERE source_email = ?`, sourceEmail)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("load account id: %w", err)
	}
	return id, nil
}
