package query

import (
	"strconv"
	"strings"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/configs"
)

// likeEscape can't appear in a topic, so it is safe to escape "_" with it
const likeEscape = "!"

// column aliases of CountByStatus
const (
	StatusAlias = "status"
	TotalAlias  = "total"
)

// Statement is parametrized statement text plus its bound values, in placeholder order.
type Statement struct {
	Text string
	Args []any
}

// Builder turns filters and messages into statements for one schema.
// It holds no per-statement state and is safe for concurrent use.
type Builder struct {
	schema *configs.SchemaConfig
}

func NewBuilder(schema *configs.SchemaConfig) *Builder {
	return &Builder{schema: schema}
}

// Claim marks up to filter.Limit() unclaimed rows matching the filter as ACK_PENDING under token.
func (b *Builder) Claim(filter *common.Filter, token string, now string) (Statement, error) {
	sb := b.newStatement()

	set := b.col(configs.FieldStatus) + " = " + sb.bind(common.AckPendingStatus) + ", " +
		b.col(configs.FieldDateUpdate) + " = " + sb.bind(now) + ", " +
		b.col(configs.FieldPendingToken) + " = " + sb.bind(token)

	switch b.schema.Dialect() {
	case configs.MySQLDialect:
		where, err := b.where(sb, filter)
		if err != nil {
			return Statement{}, err
		}
		sb.write("UPDATE ", b.table(), " SET ", set, " WHERE ", where)
		sb.write(b.orderBy(filter))
		sb.write(" LIMIT ", sb.bind(filter.Limit()))
	default:
		where, err := b.where(sb, filter)
		if err != nil {
			return Statement{}, err
		}
		sb.write("UPDATE ", b.table(), " SET ", set,
			" WHERE ", b.col(configs.FieldID), " IN (SELECT ", b.col(configs.FieldID),
			" FROM ", b.table(), " WHERE ", where)
		sb.write(b.orderBy(filter))
		sb.write(" LIMIT ", sb.bind(filter.Limit()))
		if b.schema.Dialect() == configs.PostgresDialect {
			sb.write(" FOR UPDATE SKIP LOCKED")
		}
		// re-checked on the outer statement: a row claimed concurrently no longer matches
		sb.write(") AND ", b.col(configs.FieldPendingToken), " IS NULL")
	}
	return sb.statement(), nil
}

// Fetch selects the rows claimed under token.
func (b *Builder) Fetch(token string) Statement {
	sb := b.newStatement()
	sb.write("SELECT ", b.columns(), " FROM ", b.table(),
		" WHERE ", b.col(configs.FieldPendingToken), " = ", sb.bind(token))
	sb.write(b.orderBy(nil))
	return sb.statement()
}

// Count counts the rows a claim with the same filter could take.
func (b *Builder) Count(filter *common.Filter) (Statement, error) {
	sb := b.newStatement()
	where, err := b.where(sb, filter)
	if err != nil {
		return Statement{}, err
	}
	sb.write("SELECT COUNT(", b.col(configs.FieldID), ") FROM ", b.table(), " WHERE ", where)
	return sb.statement(), nil
}

// CountEntity counts the rows of an entity on a topic, whatever their status.
func (b *Builder) CountEntity(entityID string, topic string) (Statement, error) {
	if !b.schema.HasField(configs.FieldEntityID) {
		return Statement{}, common.NewConfigurationError("field %q is not mapped", configs.FieldEntityID)
	}

	sb := b.newStatement()
	sb.write("SELECT COUNT(", b.col(configs.FieldID), ") FROM ", b.table(),
		" WHERE ", b.col(configs.FieldEntityID), " = ", sb.bind(entityID),
		" AND ", b.col(configs.FieldTopic), " = ", sb.bind(topic))
	return sb.statement(), nil
}

// CountByStatus groups every row by status.
func (b *Builder) CountByStatus() Statement {
	sb := b.newStatement()
	status := b.col(configs.FieldStatus)
	sb.write("SELECT ", status, " AS ", b.quote(StatusAlias), ", COUNT(", b.col(configs.FieldID), ") AS ", b.quote(TotalAlias),
		" FROM ", b.table(), " GROUP BY ", status)
	return sb.statement()
}

// List selects the rows matching the filter without claiming them.
func (b *Builder) List(filter *common.Filter) (Statement, error) {
	sb := b.newStatement()
	where, err := b.where(sb, filter)
	if err != nil {
		return Statement{}, err
	}
	sb.write("SELECT ", b.columns(), " FROM ", b.table(), " WHERE ", where)
	sb.write(b.orderBy(filter))
	sb.write(" LIMIT ", sb.bind(filter.Limit()), " OFFSET ", sb.bind(filter.Offset()))
	return sb.statement(), nil
}

// Publish inserts a new message or updates the row that has its id.
// An update never touches id and date_create; status and pending_token only when allowStatusUpdate.
func (b *Builder) Publish(message *common.Message, isNew bool, allowStatusUpdate bool) (Statement, error) {
	sb := b.newStatement()

	if isNew {
		var columns, values []string
		for _, v := range b.messageValues(message) {
			if isEmpty(v.value) {
				continue
			}
			columns = append(columns, b.col(v.field))
			values = append(values, sb.bind(v.value))
		}
		if len(columns) == 0 {
			return Statement{}, common.NewEmptySetError("cannot build insert: no value to set")
		}
		columns = append(columns, b.col(configs.FieldPendingToken))
		values = append(values, "NULL")

		sb.write("INSERT INTO ", b.table(), " (", strings.Join(columns, ", "), ") VALUES (", strings.Join(values, ", "), ")")
		return sb.statement(), nil
	}

	excluded := map[string]bool{
		configs.FieldID:         true,
		configs.FieldDateCreate: true,
	}
	if !allowStatusUpdate {
		excluded[configs.FieldStatus] = true
		excluded[configs.FieldPendingToken] = true
	}

	var set []string
	for _, v := range b.messageValues(message) {
		if excluded[v.field] || isEmpty(v.value) {
			continue
		}
		set = append(set, b.col(v.field)+" = "+sb.bind(v.value))
	}
	// releases a stale claim together with the status rewrite
	if !excluded[configs.FieldPendingToken] {
		set = append(set, b.col(configs.FieldPendingToken)+" = NULL")
	}
	if len(set) == 0 {
		return Statement{}, common.NewEmptySetError("cannot build update: no value to set")
	}

	sb.write("UPDATE ", b.table(), " SET ", strings.Join(set, ", "),
		" WHERE ", b.col(configs.FieldID), " = ", sb.bind(message.ID))
	return sb.statement(), nil
}

// Transition moves one message to status and releases its claim.
func (b *Builder) Transition(id string, status int, now string) (Statement, error) {
	if !common.IsValidStatus(status) {
		return Statement{}, common.NewRangeError("status %d is out of range", status)
	}

	sb := b.newStatement()
	sb.write("UPDATE ", b.table(), " SET ",
		b.col(configs.FieldStatus), " = ", sb.bind(status), ", ",
		b.col(configs.FieldDateUpdate), " = ", sb.bind(now), ", ",
		b.col(configs.FieldPendingToken), " = NULL",
		" WHERE ", b.col(configs.FieldID), " = ", sb.bind(id))
	return sb.statement(), nil
}

// Clean deletes the rows in the statuses selected by bitmask last updated at or before cutoff.
func (b *Builder) Clean(bitmask int, cutoff string) (Statement, error) {
	var statuses []int
	if bitmask&common.DeleteAckReceived == common.DeleteAckReceived {
		statuses = append(statuses, common.AckReceivedStatus)
	}
	if bitmask&common.DeleteNackReceived == common.DeleteNackReceived {
		statuses = append(statuses, common.NackReceivedStatus)
	}
	if bitmask&common.DeleteAckNotReceived == common.DeleteAckNotReceived {
		statuses = append(statuses, common.AckNotReceivedStatus)
	}
	if bitmask&common.DeleteAckPending == common.DeleteAckPending {
		statuses = append(statuses, common.AckPendingStatus)
	}
	if len(statuses) == 0 {
		return Statement{}, common.NewRangeError("delete bitmask %#x selects no status", bitmask)
	}

	sb := b.newStatement()
	placeholders := make([]string, 0, len(statuses))
	for _, status := range statuses {
		placeholders = append(placeholders, sb.bind(status))
	}
	dateUpdate := b.col(configs.FieldDateUpdate)
	sb.write("DELETE FROM ", b.table(),
		" WHERE ", b.col(configs.FieldStatus), " IN (", strings.Join(placeholders, ", "), ")",
		" AND ", dateUpdate, " <= ", sb.bind(cutoff),
		" AND ", dateUpdate, " IS NOT NULL")
	return sb.statement(), nil
}

// CleanPending gives up on messages claimed at or before cutoff: they become ACK_NOT_RECEIVED.
func (b *Builder) CleanPending(cutoff string, now string) Statement {
	return b.pendingTransition(common.AckNotReceivedStatus, cutoff, now)
}

// ResetPending puts messages claimed at or before cutoff back in the queue.
func (b *Builder) ResetPending(cutoff string, now string) Statement {
	return b.pendingTransition(common.InQueueStatus, cutoff, now)
}

func (b *Builder) pendingTransition(target int, cutoff string, now string) Statement {
	sb := b.newStatement()
	status := b.col(configs.FieldStatus)
	dateUpdate := b.col(configs.FieldDateUpdate)
	sb.write("UPDATE ", b.table(), " SET ",
		status, " = ", sb.bind(target), ", ",
		dateUpdate, " = ", sb.bind(now), ", ",
		b.col(configs.FieldPendingToken), " = NULL",
		" WHERE ", status, " = ", sb.bind(common.AckPendingStatus),
		" AND ", dateUpdate, " <= ", sb.bind(cutoff),
		" AND ", dateUpdate, " IS NOT NULL")
	return sb.statement()
}

func (b *Builder) where(sb *statementBuilder, filter *common.Filter) (string, error) {
	conditions := []string{b.col(configs.FieldPendingToken) + " IS NULL"}

	if topic := filter.Topic(); topic != "" {
		column := b.col(configs.FieldTopic)
		if strings.HasSuffix(topic, "*") {
			pattern := strings.ReplaceAll(topic, "_", likeEscape+"_")
			pattern = strings.TrimSuffix(pattern, "*") + "%"
			conditions = append(conditions, column+" LIKE "+sb.bind(pattern)+" ESCAPE '"+likeEscape+"'")
		} else {
			conditions = append(conditions, column+" = "+sb.bind(topic))
		}
	}

	if condition := b.in(sb, configs.FieldStatus, filter.Statuses()); condition != "" {
		conditions = append(conditions, condition)
	}
	if condition := b.in(sb, configs.FieldPriority, filter.Priorities()); condition != "" {
		conditions = append(conditions, condition)
	}

	if b.schema.HasField(configs.FieldDateAvailability) {
		column := b.col(configs.FieldDateAvailability)
		conditions = append(conditions, "("+column+" <= "+sb.bind(filter.Availability())+" OR "+column+" IS NULL)")
	}
	if b.schema.HasField(configs.FieldDateExpiration) {
		column := b.col(configs.FieldDateExpiration)
		conditions = append(conditions, "("+column+" > "+sb.bind(filter.Expiration())+" OR "+column+" IS NULL)")
	}

	if entityID := filter.EntityID(); entityID != nil {
		if !b.schema.HasField(configs.FieldEntityID) {
			return "", common.NewConfigurationError("cannot filter on entity: field %q is not mapped", configs.FieldEntityID)
		}
		conditions = append(conditions, b.col(configs.FieldEntityID)+" = "+sb.bind(*entityID))
	}

	return strings.Join(conditions, " AND "), nil
}

// in narrows field to values: "=" for a single value, IN for several, nothing for none.
func (b *Builder) in(sb *statementBuilder, field string, values []int) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return b.col(field) + " = " + sb.bind(values[0])
	}

	placeholders := make([]string, 0, len(values))
	for _, v := range values {
		placeholders = append(placeholders, sb.bind(v))
	}
	return b.col(field) + " IN (" + strings.Join(placeholders, ", ") + ")"
}

// orderBy skips the dimensions the filter pins to a single value. A nil filter keeps every order.
func (b *Builder) orderBy(filter *common.Filter) string {
	var parts []string
	for _, order := range b.schema.Orders() {
		if filter != nil && order.Field == configs.FieldPriority && len(filter.Priorities()) == 1 {
			continue
		}
		if filter != nil && order.Field == configs.FieldStatus && len(filter.Statuses()) == 1 {
			continue
		}
		parts = append(parts, b.col(order.Field)+" "+order.Direction)
	}
	if len(parts) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

type fieldValue struct {
	field string
	value any
}

func (b *Builder) messageValues(message *common.Message) []fieldValue {
	// 0 is a status (IN_QUEUE) but not a priority
	var priority any
	if message.Priority != 0 {
		priority = message.Priority
	}

	values := []fieldValue{
		{configs.FieldID, message.ID},
		{configs.FieldStatus, message.Status},
		{configs.FieldPriority, priority},
		{configs.FieldTopic, message.Topic},
		{configs.FieldContent, message.Content},
		{configs.FieldContentType, message.ContentType},
		{configs.FieldDateCreate, message.DateCreate},
		{configs.FieldDateUpdate, message.DateUpdate},
	}

	if b.schema.HasField(configs.FieldEntityID) {
		values = append(values, fieldValue{configs.FieldEntityID, message.EntityID})
	}
	if b.schema.HasField(configs.FieldDateExpiration) {
		values = append(values, fieldValue{configs.FieldDateExpiration, message.DateExpiration})
	}
	if b.schema.HasField(configs.FieldDateAvailability) {
		values = append(values, fieldValue{configs.FieldDateAvailability, message.DateAvailability})
	}
	return values
}

// isEmpty treats "" and nil as empty. The int 0 is a real value (IN_QUEUE).
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case *string:
		return v == nil || *v == ""
	default:
		return false
	}
}

func (b *Builder) newStatement() *statementBuilder {
	return &statementBuilder{dialect: b.schema.Dialect()}
}

func (b *Builder) table() string {
	return b.quote(b.schema.Table())
}

func (b *Builder) col(field string) string {
	return b.quote(b.schema.Column(field))
}

func (b *Builder) columns() string {
	fields := b.schema.Fields()
	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, b.col(field))
	}
	return strings.Join(columns, ", ")
}

// quote is safe because identifiers are restricted to [a-zA-Z0-9_-] by the schema config.
func (b *Builder) quote(identifier string) string {
	if b.schema.Dialect() == configs.MySQLDialect {
		return "`" + identifier + "`"
	}
	return `"` + identifier + `"`
}

type statementBuilder struct {
	dialect configs.Dialect
	text    strings.Builder
	args    []any
}

func (sb *statementBuilder) bind(value any) string {
	if p, ok := value.(*string); ok {
		value = *p
	}
	sb.args = append(sb.args, value)
	if sb.dialect == configs.PostgresDialect {
		return "$" + strconv.Itoa(len(sb.args))
	}
	return "?"
}

func (sb *statementBuilder) write(parts ...string) {
	for _, part := range parts {
		sb.text.WriteString(part)
	}
}

func (sb *statementBuilder) statement() Statement {
	return Statement{Text: sb.text.String(), Args: sb.args}
}
