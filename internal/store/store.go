// Package store holds the persistence collaborators: issued identifiers,
// namespace configuration and the last trigger seen per venue.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/savegress/pamflow/internal/identifier"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Backend persists identifiers and namespace configuration
type Backend interface {
	identifier.Store
	identifier.NamespaceSource
	PutNamespace(ctx context.Context, ns identifier.Namespace) error
	DeleteNamespace(ctx context.Context, idType string) error
	Ping(ctx context.Context) error
	Close() error
}

// VenueStore keeps the last accepted trigger per venue. Unknown venues have
// an empty last trigger.
type VenueStore interface {
	LastTrigger(ctx context.Context, venue string) (string, error)
	SetLastTrigger(ctx context.Context, venue, trigger string) error
	ResetVenue(ctx context.Context, venue string) error
	Close() error
}

// GetNamespace returns the namespace of idType or ErrNotFound.
func GetNamespace(ctx context.Context, src identifier.NamespaceSource, idType string) (identifier.Namespace, error) {
	ns, ok, err := src.Namespace(ctx, idType)
	if err != nil {
		return identifier.Namespace{}, err
	}
	if !ok {
		return identifier.Namespace{}, ErrNotFound
	}
	return ns, nil
}

// Seed stores every namespace that passes validation.
func Seed(ctx context.Context, b Backend, namespaces []identifier.Namespace) error {
	for _, ns := range namespaces {
		if err := ns.Validate(); err != nil {
			return err
		}
		if err := b.PutNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

func isNumeric(value string) bool {
	if value == "" || len(value) > 18 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
