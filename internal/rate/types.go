package rate

import "time"

// Window is a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) duration() time.Duration {
	if w == Day {
		return 24 * time.Hour
	}
	return time.Minute
}

// Declaration describes a provider's outbound limits.
type Declaration struct {
	provider        string
	limits          map[Window]int
	retryAfter      string
	defaultCooldown time.Duration
}

// Provider starts a declaration for the named provider.
func Provider(name string) Declaration {
	return Declaration{
		provider:        name,
		retryAfter:      "Retry-After",
		defaultCooldown: time.Minute,
	}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPer caps calls per window. A limit of zero or less disables the window.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	if limit > 0 {
		limits[window] = limit
	} else {
		delete(limits, window)
	}
	d.limits = limits
	return d
}

// RetryAfterHeader names the header carrying the server's cooldown seconds.
func (d Declaration) RetryAfterHeader(name string) Declaration {
	d.retryAfter = name
	return d
}

// CooldownOn429 sets the pause applied to a 429 without a usable Retry-After.
func (d Declaration) CooldownOn429(cooldown time.Duration) Declaration {
	d.defaultCooldown = cooldown
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}
