package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

var customerColumns = []string{"customer_id", "name", "email", "phone_number", "signup_date", "country", "last_active"}

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano}

// LoadCustomersCSV replaces the evaluated relation with the rows of a raw
// customers CSV export. The header must name every customer column; empty
// cells load as NULL. The replacement is transactional.
func (d *DB) LoadCustomersCSV(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range customerColumns {
		if _, ok := idx[c]; !ok {
			return 0, fmt.Errorf("csv is missing column %q", c)
		}
	}

	var rows []Customer
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv line %d: %w", line, err)
		}
		c, err := parseCustomer(rec, idx)
		if err != nil {
			return 0, fmt.Errorf("csv line %d: %w", line, err)
		}
		rows = append(rows, c)
	}

	if err := d.ReplaceCustomers(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ReplaceCustomers drops and recreates the evaluated relation with rows.
func (d *DB) ReplaceCustomers(ctx context.Context, rows []Customer) error {
	return d.Gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Migrator().DropTable(d.table); err != nil {
			return fmt.Errorf("drop %s: %w", d.table, err)
		}
		if err := tx.Table(d.table).AutoMigrate(&Customer{}); err != nil {
			return fmt.Errorf("create %s: %w", d.table, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Table(d.table).CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("insert into %s: %w", d.table, err)
		}
		return nil
	})
}

func parseCustomer(rec []string, idx map[string]int) (Customer, error) {
	get := func(col string) string {
		i := idx[col]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	id, err := strconv.ParseInt(get("customer_id"), 10, 64)
	if err != nil {
		return Customer{}, fmt.Errorf("customer_id: %w", err)
	}
	signup, err := parseDate(get("signup_date"))
	if err != nil {
		return Customer{}, fmt.Errorf("signup_date: %w", err)
	}
	lastActive, err := parseDate(get("last_active"))
	if err != nil {
		return Customer{}, fmt.Errorf("last_active: %w", err)
	}

	return Customer{
		CustomerID:  id,
		Name:        get("name"),
		Email:       nullable(get("email")),
		PhoneNumber: nullable(get("phone_number")),
		SignupDate:  signup,
		Country:     nullable(get("country")),
		LastActive:  lastActive,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}
