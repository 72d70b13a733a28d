package configs

import (
	"regexp"
	"slices"
	"strings"

	"github.com/n0rdy/tableq/common"
)

type Dialect string

const (
	SQLiteDialect   Dialect = "sqlite"
	PostgresDialect Dialect = "postgres"
	MySQLDialect    Dialect = "mysql"
)

// logical field names:
const (
	FieldID               = "id"
	FieldStatus           = "status"
	FieldPriority         = "priority"
	FieldTopic            = "topic"
	FieldContent          = "content"
	FieldContentType      = "content_type"
	FieldPendingToken     = "pending_token"
	FieldDateCreate       = "date_create"
	FieldDateUpdate       = "date_update"
	FieldEntityID         = "entity_id"
	FieldDateExpiration   = "date_expiration"
	FieldDateAvailability = "date_availability"

	DefaultTable = "message_queue"
)

var (
	identifierRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	requiredFields = []string{
		FieldID,
		FieldStatus,
		FieldPriority,
		FieldTopic,
		FieldContent,
		FieldContentType,
		FieldPendingToken,
		FieldDateCreate,
		FieldDateUpdate,
	}
	optionalFields = []string{
		FieldEntityID,
		FieldDateExpiration,
		FieldDateAvailability,
	}
)

type Order struct {
	Field     string
	Direction string
}

// SchemaConfig maps the logical message fields to the physical table and columns.
// It is validated once by NewSchemaConfig and never changes afterwards.
type SchemaConfig struct {
	dialect Dialect
	table   string
	fields  map[string]string
	orders  []Order
}

type SchemaOption func(sc *SchemaConfig) error

func DefaultFields() map[string]string {
	return map[string]string{
		FieldID:               "message_id",
		FieldStatus:           "message_status",
		FieldPriority:         "message_priority",
		FieldTopic:            "message_topic",
		FieldContent:          "message_content",
		FieldContentType:      "message_content_type",
		FieldPendingToken:     "message_pending_id",
		FieldDateCreate:       "message_date_create",
		FieldDateUpdate:       "message_date_update",
		FieldEntityID:         "message_entity_id",
		FieldDateExpiration:   "message_date_expiration",
		FieldDateAvailability: "message_date_availability",
	}
}

func DefaultOrders() []Order {
	return []Order{
		{Field: FieldPriority, Direction: "ASC"},
		{Field: FieldDateAvailability, Direction: "ASC"},
		{Field: FieldDateCreate, Direction: "ASC"},
	}
}

func NewSchemaConfig(opts ...SchemaOption) (*SchemaConfig, error) {
	sc := &SchemaConfig{
		dialect: SQLiteDialect,
		table:   DefaultTable,
		fields:  DefaultFields(),
	}
	for _, opt := range opts {
		if err := opt(sc); err != nil {
			return nil, err
		}
	}

	for _, field := range requiredFields {
		if _, ok := sc.fields[field]; !ok {
			return nil, common.NewConfigurationError("required field %q is not mapped", field)
		}
	}

	// orders are resolved last so that they only reference mapped fields
	if sc.orders == nil {
		sc.orders = DefaultOrders()
	}
	resolved := make([]Order, 0, len(sc.orders))
	for _, order := range sc.orders {
		if sc.HasField(order.Field) {
			resolved = append(resolved, order)
		}
	}
	sc.orders = resolved
	return sc, nil
}

func WithDialect(dialect Dialect) SchemaOption {
	return func(sc *SchemaConfig) error {
		switch dialect {
		case SQLiteDialect, PostgresDialect, MySQLDialect:
			sc.dialect = dialect
			return nil
		default:
			return common.NewConfigurationError("unsupported dialect %q", dialect)
		}
	}
}

func WithTable(table string) SchemaOption {
	return func(sc *SchemaConfig) error {
		if table == "" {
			return common.NewConfigurationError("empty table name")
		}
		if !identifierRegexp.MatchString(table) {
			return common.NewConfigurationError("invalid table name %q", table)
		}
		sc.table = table
		return nil
	}
}

// WithFields replaces the whole field mapping. Optional fields left out are disabled.
func WithFields(fields map[string]string) SchemaOption {
	return func(sc *SchemaConfig) error {
		mapped := make(map[string]string, len(fields))
		for logical, column := range fields {
			if !isKnownField(logical) {
				return common.NewConfigurationError("unknown field %q", logical)
			}
			if !identifierRegexp.MatchString(column) {
				return common.NewConfigurationError("invalid column name %q for field %q", column, logical)
			}
			mapped[logical] = column
		}
		sc.fields = mapped
		return nil
	}
}

// WithOrders sets the claim ordering. Orders on unmapped fields are skipped.
func WithOrders(orders ...Order) SchemaOption {
	return func(sc *SchemaConfig) error {
		resolved := make([]Order, 0, len(orders))
		for _, order := range orders {
			direction := strings.ToUpper(order.Direction)
			if direction != "ASC" && direction != "DESC" {
				return common.NewConfigurationError("invalid order direction %q", order.Direction)
			}
			resolved = append(resolved, Order{Field: order.Field, Direction: direction})
		}
		sc.orders = resolved
		return nil
	}
}

func (sc *SchemaConfig) Dialect() Dialect {
	return sc.dialect
}

func (sc *SchemaConfig) Table() string {
	return sc.table
}

func (sc *SchemaConfig) HasField(logical string) bool {
	_, ok := sc.fields[logical]
	return ok
}

// Column returns the physical column of a logical field, or "" when it is not mapped.
func (sc *SchemaConfig) Column(logical string) string {
	return sc.fields[logical]
}

// Fields returns the mapped logical fields in a stable order.
func (sc *SchemaConfig) Fields() []string {
	out := make([]string, 0, len(sc.fields))
	out = append(out, requiredFields...)
	for _, field := range optionalFields {
		if sc.HasField(field) {
			out = append(out, field)
		}
	}
	return out
}

func (sc *SchemaConfig) Orders() []Order {
	out := make([]Order, len(sc.orders))
	copy(out, sc.orders)
	return out
}

func isKnownField(logical string) bool {
	return slices.Contains(requiredFields, logical) || slices.Contains(optionalFields, logical)
}
