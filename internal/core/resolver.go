package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/patientsync/internal/logging"
)

// Identity maps a lower-cased email to the id of the persisted patient.
// Built once per run and read-only afterwards.
type Identity map[string]string

// Lookup returns the patient id for email, matching case-insensitively.
func (id Identity) Lookup(email string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return "", false
	}
	v, ok := id[key]
	return v, ok
}

// Resolver performs the bulk email lookup.
type Resolver struct {
	Repo PatientRepository
}

// CollectEmails returns the distinct, non-empty, lower-cased emails of rows
// in first-seen order.
func CollectEmails(rows []SourceRow) []string {
	emails := make([]string, len(rows))
	for i, row := range rows {
		emails[i] = row.EmailKey
	}
	return dedupeLower(emails)
}

// Resolve issues a single FindByEmails call for all emails and builds the
// Identity. When the store holds several patients with the same normalized
// email, the lexicographically lowest id wins.
func (r *Resolver) Resolve(ctx context.Context, emails []string) (Identity, error) {
	keys := dedupeLower(emails)
	identity := make(Identity, len(keys))
	if len(keys) == 0 {
		return identity, nil
	}

	matches, err := r.Repo.FindByEmails(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("resolve %d emails: %w", len(keys), err)
	}

	logger := logging.FromContext(ctx)
	collisions := make(map[string]bool)
	for _, m := range matches {
		key := strings.ToLower(strings.TrimSpace(m.Email))
		if key == "" {
			continue
		}
		existing, ok := identity[key]
		if !ok {
			identity[key] = m.ID
			continue
		}
		if existing == m.ID {
			continue
		}
		if !collisions[key] {
			collisions[key] = true
			logger.Warn("multiple patients share an email, using lowest id", "email", key)
		}
		if m.ID < existing {
			identity[key] = m.ID
		}
	}

	logger.Info("identities resolved",
		"emails", len(keys),
		"matched", len(identity),
		"collisions", len(collisions),
	)
	return identity, nil
}

// dedupeLower trims, lower-cases and removes duplicates and empty strings,
// preserving order.
func dedupeLower(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	return result
}
