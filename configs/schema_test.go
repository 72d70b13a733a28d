package configs

import (
	"errors"
	"reflect"
	"testing"

	"github.com/n0rdy/tableq/common"
)

func TestNewSchemaConfig_Defaults(t *testing.T) {
	sc, err := NewSchemaConfig()
	if err != nil {
		t.Fatalf("new schema config: %v", err)
	}

	if sc.Dialect() != SQLiteDialect || sc.Table() != DefaultTable {
		t.Fatalf("dialect=%s table=%s", sc.Dialect(), sc.Table())
	}
	if sc.Column(FieldPendingToken) != "message_pending_id" {
		t.Fatalf("pending token column=%s", sc.Column(FieldPendingToken))
	}
	if len(sc.Fields()) != 12 {
		t.Fatalf("expected 12 fields, got %v", sc.Fields())
	}
	if !reflect.DeepEqual(sc.Orders(), DefaultOrders()) {
		t.Fatalf("orders=%v", sc.Orders())
	}
}

func TestNewSchemaConfig_InvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		opt  SchemaOption
	}{
		{"empty table", WithTable("")},
		{"table with space", WithTable("message queue")},
		{"table with quote", WithTable(`queue"; DROP TABLE x; --`)},
		{"unknown dialect", WithDialect("oracle")},
		{"unknown field", WithFields(map[string]string{"color": "c"})},
		{"invalid column", WithFields(map[string]string{FieldID: "id;"})},
		{"invalid direction", WithOrders(Order{Field: FieldPriority, Direction: "up"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSchemaConfig(tt.opt); !errors.Is(err, common.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestNewSchemaConfig_MissingRequiredField(t *testing.T) {
	fields := DefaultFields()
	delete(fields, FieldPendingToken)

	if _, err := NewSchemaConfig(WithFields(fields)); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewSchemaConfig_OptionalFields(t *testing.T) {
	fields := DefaultFields()
	delete(fields, FieldDateAvailability)

	// option order does not matter
	sc, err := NewSchemaConfig(
		WithOrders(Order{Field: FieldDateAvailability, Direction: "asc"}, Order{Field: FieldDateCreate, Direction: "desc"}),
		WithFields(fields),
	)
	if err != nil {
		t.Fatalf("new schema config: %v", err)
	}

	if sc.HasField(FieldDateAvailability) || sc.Column(FieldDateAvailability) != "" {
		t.Fatalf("unmapped field reported as mapped")
	}
	if want := []Order{{Field: FieldDateCreate, Direction: "DESC"}}; !reflect.DeepEqual(sc.Orders(), want) {
		t.Fatalf("orders=%v want %v", sc.Orders(), want)
	}
	if len(sc.Fields()) != 11 {
		t.Fatalf("expected 11 fields, got %v", sc.Fields())
	}
}

func TestSchemaConfig_OrdersAreCopied(t *testing.T) {
	sc, err := NewSchemaConfig()
	if err != nil {
		t.Fatalf("new schema config: %v", err)
	}

	orders := sc.Orders()
	orders[0].Direction = "DESC"
	if sc.Orders()[0].Direction != "ASC" {
		t.Fatalf("schema config mutated through Orders()")
	}
}
