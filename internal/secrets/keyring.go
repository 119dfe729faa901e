// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/zalando/go-keyring"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// indexSuffix names the entry holding a service's key list; the OS keyrings
// cannot enumerate entries themselves.
const indexSuffix = "::index"

// KeyringStore implements Store on the OS keyring (Keychain, Secret
// Service, Windows Credential Manager).
type KeyringStore struct{}

var _ Store = KeyringStore{}

func checkKey(op, service, key string) error {
	if service == "" || key == "" {
		return strataerr.Errorf(strataerr.CodeSecretInvalidInput, "secret %s: service and key are required", op)
	}
	return nil
}

func (KeyringStore) Get(service, key string) (string, error) {
	if err := checkKey("get", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", strataerr.Errorf(strataerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeSecretStoreFailure, "reading secret %s/%s", service, key)
	}
	return val, nil
}

func (s KeyringStore) Set(service, key, value string) error {
	if err := checkKey("set", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return strataerr.Wrapf(err, strataerr.CodeSecretStoreFailure, "writing secret %s/%s", service, key)
	}

	keys, err := s.List(service)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return saveIndex(service, append(keys, key))
}

func (s KeyringStore) Delete(service, key string) error {
	if err := checkKey("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return strataerr.Errorf(strataerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return strataerr.Wrapf(err, strataerr.CodeSecretStoreFailure, "deleting secret %s/%s", service, key)
	}

	keys, err := s.List(service)
	if err != nil {
		return err
	}
	return saveIndex(service, slices.DeleteFunc(keys, func(k string) bool { return k == key }))
}

// List returns the keys stored under service, in insertion order.
func (KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeSecretStoreFailure, "reading key index for %s", service)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeSecretStoreFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func saveIndex(service string, keys []string) error {
	if len(keys) == 0 {
		if err := keyring.Delete(service, service+indexSuffix); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index failed", "service", service, "error", err)
		}
		return nil
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return strataerr.Wrapf(err, strataerr.CodeSecretStoreFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, service+indexSuffix, string(data)); err != nil {
		return strataerr.Wrapf(err, strataerr.CodeSecretStoreFailure, "writing key index for %s", service)
	}
	return nil
}
