package confprovider

import (
	"net/url"
	"strings"
)

// connectionString is the parsed form of Load's endpointOrConnectionString
// argument (spec §1 external interfaces, SPEC_FULL.md supplemented
// connection-string grammar). Only Endpoint is load-bearing for this
// module: ID and Secret are carried through for diagnostics/caller
// convenience only. Load never interprets them itself, mirroring how the
// Azure App Configuration connection string's HMAC signing key is
// understood only by whatever credential implementation the caller
// constructs and passes in, not by the provider.
type connectionString struct {
	Endpoint string
	ID       string
	Secret   string
}

// parseConnectionString accepts either a bare HTTPS endpoint URL, or the
// `Endpoint=...;Id=...;Secret=...` connection-string form. Key order
// within the connection string is not significant; unknown keys are
// ignored so a caller can pass through a connection string that also
// carries keys this module has no use for.
func parseConnectionString(raw string) (connectionString, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return connectionString{}, ErrInvalidArgument("endpointOrConnectionString must not be empty")
	}

	if !strings.Contains(raw, "=") {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return connectionString{}, ErrInvalidArgument("endpointOrConnectionString %q is not a valid URL: %v", raw, err)
		}
		return connectionString{Endpoint: strings.TrimRight(raw, "/")}, nil
	}

	cs := connectionString{}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.IndexByte(part, '=')
		if idx <= 0 {
			return connectionString{}, ErrInvalidArgument("connection string segment %q is not key=value", part)
		}
		key, value := strings.TrimSpace(part[:idx]), strings.TrimSpace(part[idx+1:])
		switch strings.ToLower(key) {
		case "endpoint":
			cs.Endpoint = strings.TrimRight(value, "/")
		case "id":
			cs.ID = value
		case "secret":
			cs.Secret = value
		}
	}

	if cs.Endpoint == "" {
		return connectionString{}, ErrInvalidArgument("connection string is missing an Endpoint segment")
	}
	if _, err := url.ParseRequestURI(cs.Endpoint); err != nil {
		return connectionString{}, ErrInvalidArgument("connection string Endpoint %q is not a valid URL: %v", cs.Endpoint, err)
	}
	return cs, nil
}
