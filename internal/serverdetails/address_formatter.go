package serverdetails

import (
	"fmt"
	"net"
	"strings"
)

const (
	displayHostLocalhost = "localhost"
	schemeSeparator      = "://"
)

var localDisplayAddresses = map[string]struct{}{
	"":          {},
	"0.0.0.0":   {},
	"127.0.0.1": {},
	"::":        {},
	"::1":       {},
	"localhost": {},
}

// ServingAddressFormatter renders listening addresses for log messages.
type ServingAddressFormatter interface {
	FormatHostAndPortForLogging(bindAddress string, port string) string
	FormatURLForLogging(scheme string, bindAddress string, port string) string
}

type servingAddressFormatter struct{}

// NewServingAddressFormatter returns the default ServingAddressFormatter.
func NewServingAddressFormatter() ServingAddressFormatter {
	return servingAddressFormatter{}
}

// FormatHostAndPortForLogging reports wildcard and loopback binds as localhost.
func (servingAddressFormatter) FormatHostAndPortForLogging(bindAddress string, port string) string {
	displayHost := strings.TrimSpace(bindAddress)
	if _, isLocal := localDisplayAddresses[displayHost]; isLocal {
		displayHost = displayHostLocalhost
	}
	return net.JoinHostPort(displayHost, strings.TrimSpace(port))
}

func (formatter servingAddressFormatter) FormatURLForLogging(scheme string, bindAddress string, port string) string {
	normalizedScheme := strings.TrimSuffix(strings.TrimSpace(scheme), schemeSeparator)
	return fmt.Sprintf("%s%s%s", normalizedScheme, schemeSeparator, formatter.FormatHostAndPortForLogging(bindAddress, port))
}
