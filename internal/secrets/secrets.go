// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets resolves keyring:// references in credential settings
// against the OS keyring.
package secrets

import (
	"strings"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Service is the keyring service strata stores its own secrets under.
const Service = "strata"

const scheme = "keyring://"

// Store reads and writes secrets by service and key.
type Store interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
	List(service string) ([]string, error)
}

// IsRef reports whether value is a keyring://service/key reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, scheme)
}

// Ref formats a reference to key under service.
func Ref(service, key string) string {
	return scheme + service + "/" + key
}

// ParseRef splits a keyring://service/key reference.
func ParseRef(ref string) (service, key string, err error) {
	rest, ok := strings.CutPrefix(ref, scheme)
	if !ok {
		return "", "", strataerr.Errorf(strataerr.CodeSecretInvalidInput, "not a keyring reference: %q", ref)
	}
	service, key, ok = strings.Cut(rest, "/")
	if !ok || service == "" || key == "" {
		return "", "", strataerr.Errorf(strataerr.CodeSecretInvalidInput, "invalid keyring reference %q: expected keyring://service/key", ref)
	}
	return service, key, nil
}

// Resolve returns value unchanged unless it is a keyring reference, in
// which case the referenced secret is returned.
func Resolve(store Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	service, key, err := ParseRef(value)
	if err != nil {
		return "", err
	}
	secret, err := store.Get(service, key)
	if err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeSecretNotFound, "resolving %s", value)
	}
	return secret, nil
}
