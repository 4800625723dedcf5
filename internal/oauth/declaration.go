package oauth

import (
	"fmt"
	"strings"
	"time"
)

const DefaultRefreshInterval = 10 * time.Minute

// Declaration describes a provider's token endpoint.
type Declaration struct {
	Provider string
	TokenURL string
	Scope    string
}

// Credentials are the resource-owner password grant inputs.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Validate reports every missing credential field.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}
