// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"fmt"

	"github.com/sigil-dev/strata/internal/secrets"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// ResolveSecrets replaces keyring://service/key references in credential
// fields with the referenced secrets. Plain values are left alone, so the
// store is only consulted when a reference is present.
func (c *Config) ResolveSecrets(store secrets.Store) error {
	var errs []error
	resolve := func(field string, v *string) {
		val, err := secrets.Resolve(store, *v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*v = val
	}

	for name, p := range c.Providers {
		resolve("providers."+name+".api_key", &p.APIKey)
		c.Providers[name] = p
	}
	resolve("archive.minio.access_key", &c.Archive.Minio.AccessKey)
	resolve("archive.minio.secret_key", &c.Archive.Minio.SecretKey)
	resolve("events.redis.password", &c.Events.Redis.Password)

	if len(errs) > 0 {
		return strataerr.Errorf(strataerr.CodeConfigLoadReadFailure, "resolving secrets: %w", errors.Join(errs...))
	}
	return nil
}
