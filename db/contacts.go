package db

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

const (
	RoleTechnician = "technician"
	RoleCustomer   = "customer"
	RoleSupplier   = "supplier"
)

type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"` // digits only, country code included
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// ContactByPhoneSuffix resolves a sender by trailing-digits match.
// Gateways are inconsistent about country-code prefixes, so the lookup
// matches on the last digits of the stored phone number.
func (db *DB) ContactByPhoneSuffix(suffix string) (*Contact, error) {
	if suffix == "" {
		return nil, nil
	}
	c := &Contact{}
	err := db.QueryRow(`
		SELECT id, name, phone, role, active
		FROM contacts WHERE active = 1 AND phone LIKE '%' || ?
		LIMIT 1
	`, suffix).Scan(&c.ID, &c.Name, &c.Phone, &c.Role, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) GetContact(id string) (*Contact, error) {
	c := &Contact{}
	err := db.QueryRow(`
		SELECT id, name, phone, role, active FROM contacts WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Role, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) ContactsByRole(role string) ([]Contact, error) {
	rows, err := db.Query(`
		SELECT id, name, phone, role, active FROM contacts WHERE active = 1 AND role = ?
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Role, &c.Active); err != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

func (db *DB) InsertContact(name, phone, role string) (*Contact, error) {
	c := &Contact{ID: uuid.NewString(), Name: name, Phone: phone, Role: role, Active: true}
	_, err := db.Exec(`
		INSERT INTO contacts (id, name, phone, role, active) VALUES (?, ?, ?, ?, 1)
	`, c.ID, c.Name, c.Phone, c.Role)
	if err != nil {
		return nil, err
	}
	return c, nil
}
