package serverdetails_test

import (
	"testing"

	"github.com/tyemirov/linebreaks/internal/serverdetails"
)

const (
	testNameEmptyBindAddress              = "empty bind address becomes localhost"
	testNameWildcardBindAddress           = "wildcard bind address becomes localhost"
	testNameLoopbackBindAddress           = "loopback bind address becomes localhost"
	testNameExternalBindAddressPreserved  = "external bind address is preserved"
	testNameHostnameWithWhitespaceTrimmed = "hostname with whitespace is trimmed"
	testNameIPv6WildcardBindAddress       = "ipv6 wildcard bind address becomes localhost"
	testNameIPv6LoopbackBindAddress       = "ipv6 loopback bind address becomes localhost"
	testNameFormatURLHTTP                 = "format url for http scheme"
	testNameFormatURLHTTPS                = "format url for https scheme"
	testNameFormatURLWithSchemeSuffix     = "format url trims scheme suffix"
	bindAddressEmptyValue                 = ""
	bindAddressWildcardValue              = "0.0.0.0"
	bindAddressLoopbackValue              = "127.0.0.1"
	bindAddressExternalValue              = "192.168.10.50"
	bindAddressHostnameWithWhitespace     = "  example.com  "
	bindAddressIpvSixValue                = "2001:db8::1"
	bindAddressIPv6WildcardValue          = "::"
	bindAddressIPv6LoopbackValue          = "::1"
	portValue                             = "8000"
	expectedLocalhostDisplay              = "localhost:8000"
	expectedExternalDisplay               = "192.168.10.50:8000"
	expectedHostnameDisplay               = "example.com:8000"
	expectedHTTPURL                       = "http://localhost:8000"
	expectedHTTPSURL                      = "https://localhost:8000"
)

func TestServingAddressFormatter_FormatHostAndPortForLogging(t *testing.T) {
	formatter := serverdetails.NewServingAddressFormatter()

	testCases := []struct {
		name        string
		bindAddress string
		expected    string
	}{
		{
			name:        testNameEmptyBindAddress,
			bindAddress: bindAddressEmptyValue,
			expected:    expectedLocalhostDisplay,
		},
		{
			name:        testNameWildcardBindAddress,
			bindAddress: bindAddressWildcardValue,
			expected:    expectedLocalhostDisplay,
		},
		{
			name:        testNameLoopbackBindAddress,
			bindAddress: bindAddressLoopbackValue,
			expected:    expectedLocalhostDisplay,
		},
		{
			name:        testNameExternalBindAddressPreserved,
			bindAddress: bindAddressExternalValue,
			expected:    expectedExternalDisplay,
		},
		{
			name:        testNameIPv6WildcardBindAddress,
			bindAddress: bindAddressIPv6WildcardValue,
			expected:    expectedLocalhostDisplay,
		},
		{
			name:        testNameIPv6LoopbackBindAddress,
			bindAddress: bindAddressIPv6LoopbackValue,
			expected:    expectedLocalhostDisplay,
		},
		{
			name:        testNameHostnameWithWhitespaceTrimmed,
			bindAddress: bindAddressHostnameWithWhitespace,
			expected:    expectedHostnameDisplay,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			actual := formatter.FormatHostAndPortForLogging(testCase.bindAddress, portValue)
			if actual != testCase.expected {
				t.Fatalf("formatted address mismatch: expected %s, got %s", testCase.expected, actual)
			}
		})
	}
}

func TestServingAddressFormatter_FormatHostAndPortForLoggingUsesNetJoinHostPort(t *testing.T) {
	formatter := serverdetails.NewServingAddressFormatter()
	expectedAddress := "[2001:db8::1]:8000"

	actualAddress := formatter.FormatHostAndPortForLogging(bindAddressIpvSixValue, portValue)
	if actualAddress != expectedAddress {
		t.Fatalf("expected IPv6 address to remain bracketed: expected %s, got %s", expectedAddress, actualAddress)
	}
}

func TestServingAddressFormatter_FormatURLForLogging(t *testing.T) {
	formatter := serverdetails.NewServingAddressFormatter()

	testCases := []struct {
		name        string
		scheme      string
		bindAddress string
		expected    string
	}{
		{
			name:        testNameFormatURLHTTP,
			scheme:      "http",
			bindAddress: bindAddressEmptyValue,
			expected:    expectedHTTPURL,
		},
		{
			name:        testNameFormatURLHTTPS,
			scheme:      "https",
			bindAddress: bindAddressEmptyValue,
			expected:    expectedHTTPSURL,
		},
		{
			name:        testNameFormatURLWithSchemeSuffix,
			scheme:      "https://",
			bindAddress: bindAddressEmptyValue,
			expected:    expectedHTTPSURL,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			actual := formatter.FormatURLForLogging(testCase.scheme, testCase.bindAddress, portValue)
			if actual != testCase.expected {
				t.Fatalf("expected url %s, got %s", testCase.expected, actual)
			}
		})
	}
}
