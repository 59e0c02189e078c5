// Package dberr classifies database connection errors into a fixed
// taxonomy so that callers can decide whether retrying is worthwhile
// and operators get actionable troubleshooting steps.
package dberr

import (
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Category identifies the failure class of a database error.
type Category string

const (
	CategoryNetwork       Category = "NETWORK"
	CategoryPoolExhausted Category = "POOL_EXHAUSTED"
	CategoryDNS           Category = "DNS"
	CategoryAuthFailed    Category = "AUTH_FAILED"
	CategoryDBNotFound    Category = "DB_NOT_FOUND"
	CategoryTLS           Category = "TLS"
	CategorySchema        Category = "SCHEMA"
	CategoryUnknown       Category = "UNKNOWN"
)

// ClassifiedError is the immutable classification of a raw driver or
// network error.
type ClassifiedError struct {
	Message         string
	Category        Category
	Temporary       bool
	Troubleshooting []string
}

// Retryability returns "temporary" or "permanent" for logging.
func (e *ClassifiedError) Retryability() string {
	if e.Temporary {
		return "temporary"
	}
	return "permanent"
}

var troubleshooting = map[Category][]string{
	CategoryNetwork: {
		"check that the database server is running and accepting connections",
		"verify the host and port in the connection string",
		"check firewall rules between this host and the database",
		"inspect network latency and packet loss on the route",
	},
	CategoryPoolExhausted: {
		"increase pool_size in the database configuration",
		"look for connection leaks (queries that never release their connection)",
		"check max_connections on the database server",
		"consider a server-side pooler such as pgbouncer",
	},
	CategoryDNS: {
		"verify the hostname in the connection string",
		"check DNS server reachability from this host",
		"try connecting to the database host IP directly to rule out DNS",
	},
	CategoryAuthFailed: {
		"verify the database user and password",
		"check pg_hba.conf authentication rules on the server",
		"confirm the role exists and has not been locked or expired",
	},
	CategoryDBNotFound: {
		"verify the database name in the connection string",
		"create the database if it is missing: CREATE DATABASE <name>",
		"confirm you are pointing at the right server or cluster",
	},
	CategoryTLS: {
		"check the sslmode parameter in the connection string",
		"verify the server certificate chain and expiry",
		"confirm client certificates if certificate auth is required",
	},
	CategorySchema: {
		"run pending migrations: goose up",
		"inspect migration state: goose status",
		"verify the schema matches the version this build expects",
	},
	CategoryUnknown: {
		"inspect the full error message",
		"check the database server logs",
		"retry the operation; the failure may be transient",
	},
}

// pattern tables, checked in order. More specific patterns come before
// generic ones so that e.g. "pool timeout" is not swallowed by "timeout".
type pattern struct {
	substr   string
	category Category
}

var patterns = []pattern{
	// Network failures that cannot be confused with anything else.
	{"econnrefused", CategoryNetwork},
	{"connection refused", CategoryNetwork},
	{"econnreset", CategoryNetwork},
	{"connection reset", CategoryNetwork},
	{"broken pipe", CategoryNetwork},
	{"network is unreachable", CategoryNetwork},
	{"no route to host", CategoryNetwork},
	{"unreachable", CategoryNetwork},
	{"terminated unexpectedly", CategoryNetwork},
	{"connection terminated", CategoryNetwork},
	{"server closed", CategoryNetwork},
	{"unexpected eof", CategoryNetwork},

	// Pool saturation, before the generic timeout patterns.
	{"pool timeout", CategoryPoolExhausted},
	{"too many connections", CategoryPoolExhausted},
	{"too many clients", CategoryPoolExhausted},
	{"remaining connection slots", CategoryPoolExhausted},
	{"connection pool exhausted", CategoryPoolExhausted},
	{"acquire timeout", CategoryPoolExhausted},

	{"no such host", CategoryDNS},
	{"getaddrinfo", CategoryDNS},
	{"enotfound", CategoryDNS},
	{"eai_again", CategoryDNS},
	{"name resolution", CategoryDNS},

	{"password authentication failed", CategoryAuthFailed},
	{"authentication failed", CategoryAuthFailed},
	{"invalid credentials", CategoryAuthFailed},
	{"permission denied", CategoryAuthFailed},
	{"access denied", CategoryAuthFailed},

	{"certificate", CategoryTLS},
	{"x509", CategoryTLS},
	{"tls", CategoryTLS},
	{"ssl", CategoryTLS},

	{"goose", CategorySchema},
	{"migration", CategorySchema},
	{"undefined_table", CategorySchema},

	// Generic timeouts last, classified as network-level.
	{"i/o timeout", CategoryNetwork},
	{"etimedout", CategoryNetwork},
	{"timed out", CategoryNetwork},
	{"timeout", CategoryNetwork},
	{"deadline exceeded", CategoryNetwork},
	{"dial tcp", CategoryNetwork},
	{"eof", CategoryNetwork},
}

// temporary categories allow retry; everything else is permanent.
// UNKNOWN is optimistically temporary so an unrecognized signal does not
// stop the retry loop.
var temporary = map[Category]bool{
	CategoryNetwork:       true,
	CategoryPoolExhausted: true,
	CategoryDNS:           true,
	CategoryUnknown:       true,
}

// Classify maps a raw error into the closed category taxonomy.
// It is a pure function over the error's type and message; the returned
// value never includes credential material beyond what the driver itself
// reports (Postgres auth errors carry the role name, never the password).
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	category := classifyCategory(err)
	return &ClassifiedError{
		Message:         err.Error(),
		Category:        category,
		Temporary:       temporary[category],
		Troubleshooting: troubleshooting[category],
	}
}

func classifyCategory(err error) Category {
	// Typed checks first, they are more reliable than message matching.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "28P01" || pgErr.Code == "28000":
			return CategoryAuthFailed
		case pgErr.Code == "3D000":
			return CategoryDBNotFound
		case pgErr.Code == "53300" || pgErr.Code == "53400":
			return CategoryPoolExhausted
		case pgErr.Code == "42P01":
			return CategorySchema
		case strings.HasPrefix(pgErr.Code, "08"):
			return CategoryNetwork
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryDNS
	}

	msg := strings.ToLower(err.Error())

	for _, p := range patterns {
		if strings.Contains(msg, p.substr) {
			return p.category
		}
	}

	// "database \"x\" does not exist" has no stable single token, so it
	// cannot live in the pattern table; it ranks below every entry there.
	if strings.Contains(msg, "database") && strings.Contains(msg, "does not exist") {
		return CategoryDBNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	return CategoryUnknown
}
