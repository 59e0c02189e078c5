package dberr

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  Category
		temporary bool
	}{
		{
			name:      "connection refused",
			err:       errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
			category:  CategoryNetwork,
			temporary: true,
		},
		{
			name:      "econnrefused style",
			err:       errors.New("ECONNREFUSED 127.0.0.1:5432"),
			category:  CategoryNetwork,
			temporary: true,
		},
		{
			name:      "connection reset",
			err:       errors.New("read tcp: connection reset by peer"),
			category:  CategoryNetwork,
			temporary: true,
		},
		{
			name:      "generic timeout",
			err:       errors.New("i/o timeout"),
			category:  CategoryNetwork,
			temporary: true,
		},
		{
			name:      "server terminated",
			err:       errors.New("the database system connection terminated unexpectedly"),
			category:  CategoryNetwork,
			temporary: true,
		},
		{
			name:      "pool timeout beats generic timeout",
			err:       errors.New("pool timeout while acquiring connection"),
			category:  CategoryPoolExhausted,
			temporary: true,
		},
		{
			name:      "too many connections",
			err:       errors.New("FATAL: sorry, too many clients already"),
			category:  CategoryPoolExhausted,
			temporary: true,
		},
		{
			name:      "connection slots",
			err:       errors.New("FATAL: remaining connection slots are reserved"),
			category:  CategoryPoolExhausted,
			temporary: true,
		},
		{
			name:      "dns typed error",
			err:       &net.DNSError{Err: "no such host", Name: "db.internal"},
			category:  CategoryDNS,
			temporary: true,
		},
		{
			name:      "dns message",
			err:       errors.New("lookup db.internal: no such host"),
			category:  CategoryDNS,
			temporary: true,
		},
		{
			name:      "password authentication",
			err:       errors.New(`password authentication failed for user "app"`),
			category:  CategoryAuthFailed,
			temporary: false,
		},
		{
			name:      "pg auth sqlstate",
			err:       fmt.Errorf("connect: %w", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}),
			category:  CategoryAuthFailed,
			temporary: false,
		},
		{
			name:      "database does not exist",
			err:       errors.New(`FATAL: database "missing" does not exist`),
			category:  CategoryDBNotFound,
			temporary: false,
		},
		{
			name:      "pg db sqlstate",
			err:       fmt.Errorf("connect: %w", &pgconn.PgError{Code: "3D000", Message: `database "missing" does not exist`}),
			category:  CategoryDBNotFound,
			temporary: false,
		},
		{
			// A pattern-table signal outranks the looser compound match.
			name:      "network signal beats db-not-found phrase",
			err:       errors.New(`read tcp 10.0.0.4:5432: i/o timeout; last server message: database "app" does not exist`),
			category:  CategoryNetwork,
			temporary: true,
		},
		{
			name:      "certificate error",
			err:       errors.New("x509: certificate signed by unknown authority"),
			category:  CategoryTLS,
			temporary: false,
		},
		{
			name:      "ssl disabled",
			err:       errors.New("SSL is not enabled on the server"),
			category:  CategoryTLS,
			temporary: false,
		},
		{
			name:      "migration failure",
			err:       errors.New("goose: failed to apply migration 00005"),
			category:  CategorySchema,
			temporary: false,
		},
		{
			name:      "missing relation",
			err:       fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01", Message: `relation "connection_outages" does not exist`}),
			category:  CategorySchema,
			temporary: false,
		},
		{
			name:      "unmatched error",
			err:       errors.New("something inexplicable happened"),
			category:  CategoryUnknown,
			temporary: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			if ce.Category != tt.category {
				t.Fatalf("Classify(%v).Category = %s, want %s", tt.err, ce.Category, tt.category)
			}
			if ce.Temporary != tt.temporary {
				t.Errorf("Classify(%v).Temporary = %v, want %v", tt.err, ce.Temporary, tt.temporary)
			}
			if len(ce.Troubleshooting) == 0 {
				t.Errorf("no troubleshooting steps for category %s", ce.Category)
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("Classify(nil) should return nil")
	}
}

func TestClassify_AuthMessageHasNoPassword(t *testing.T) {
	// The classifier must not add credential material; auth errors from
	// the server only ever carry the role name.
	err := errors.New(`password authentication failed for user "app"`)
	ce := Classify(err)

	if ce.Category != CategoryAuthFailed {
		t.Fatalf("category = %s, want %s", ce.Category, CategoryAuthFailed)
	}
	if strings.Contains(ce.Message, "hunter2") {
		t.Error("classified message contains a credential value")
	}
	for _, step := range ce.Troubleshooting {
		if strings.Contains(step, "hunter2") {
			t.Errorf("troubleshooting step contains a credential value: %s", step)
		}
	}
}

func TestClassify_Retryability(t *testing.T) {
	temp := Classify(errors.New("connection refused"))
	if temp.Retryability() != "temporary" {
		t.Errorf("Retryability() = %s, want temporary", temp.Retryability())
	}

	perm := Classify(errors.New("password authentication failed"))
	if perm.Retryability() != "permanent" {
		t.Errorf("Retryability() = %s, want permanent", perm.Retryability())
	}
}

func TestClassify_SchemaRemediation(t *testing.T) {
	ce := Classify(errors.New("goose: migration 00003 failed"))

	found := false
	for _, step := range ce.Troubleshooting {
		if strings.Contains(step, "goose up") {
			found = true
		}
	}
	if !found {
		t.Errorf("SCHEMA troubleshooting should name the migration tool, got %v", ce.Troubleshooting)
	}
}
