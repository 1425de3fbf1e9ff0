package snssink

// ProviderConfig holds the connection defaults for a named SNS-compatible
// endpoint. Adapted from the teacher's S3 KnownProviders table: the same
// "pick a named backend, fall back to its defaults" shape, generalized from
// S3-compatible object stores to SNS-compatible topic services.
type ProviderConfig struct {
	Name            string
	DefaultEndpoint string
	DefaultRegion   string
	RequiresRegion  bool
}

// KnownProviders contains configuration for known SNS-compatible endpoints.
var KnownProviders = map[string]ProviderConfig{
	"aws": {
		Name:           "AWS SNS",
		RequiresRegion: true,
		DefaultRegion:  "us-east-1",
	},
	"localstack": {
		Name:            "LocalStack",
		DefaultEndpoint: "http://localhost:4566",
		RequiresRegion:  false,
		DefaultRegion:   "us-east-1",
	},
}

// ResolveEndpoint returns the endpoint to use for the named provider,
// preferring an explicit override. An unknown provider name resolves to the
// empty endpoint, which selects AWS's default resolution chain.
func ResolveEndpoint(provider, override string) string {
	if override != "" {
		return override
	}
	if p, ok := KnownProviders[provider]; ok {
		return p.DefaultEndpoint
	}
	return ""
}

// ResolveRegion returns the region to use for the named provider, preferring
// an explicit override.
func ResolveRegion(provider, override string) string {
	if override != "" {
		return override
	}
	if p, ok := KnownProviders[provider]; ok {
		return p.DefaultRegion
	}
	return ""
}
