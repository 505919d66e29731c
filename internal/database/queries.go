package database

// Order queries
const (
	// LockOrderNumbersSQL serializes number allocation for the rest of the transaction
	LockOrderNumbersSQL = `SELECT pg_advisory_xact_lock(hashtext('orders_number'))`

	GetNextOrderNumberSQL = `
		SELECT COALESCE(MAX(CAST(SUBSTRING(number FROM 'ORD_[0-9]{8}_([0-9]+)') AS INTEGER)), 0) + 1
		FROM orders
		WHERE number LIKE $1`

	// InsertOrderSQL returns no row when client_ref was already accepted
	InsertOrderSQL = `
		INSERT INTO orders (number, client_ref, outlet_id, staff_id, table_id,
			subtotal, tax, discount, total, payment_method, tendered)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (client_ref) DO NOTHING
		RETURNING id, number, total::float8, status, created_at`

	GetOrderByClientRefSQL = `
		SELECT id, number, total::float8, status, created_at
		FROM orders WHERE client_ref = $1`

	InsertOrderItemSQL = `
		INSERT INTO order_items (order_id, item_id, name, quantity, price)
		VALUES ($1, $2, $3, $4, $5)`

	InsertOrderStatusLogSQL = `
		INSERT INTO order_status_log (order_id, status, changed_by, notes)
		VALUES ($1, $2, $3, $4)`
)

// Terminal queries
const (
	UpsertTerminalSQL = `
		INSERT INTO terminals (outlet_id, staff_id, client_type, status, pending_orders, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (outlet_id, staff_id) DO UPDATE SET
			client_type = EXCLUDED.client_type,
			status = EXCLUDED.status,
			pending_orders = EXCLUDED.pending_orders,
			last_seen = GREATEST(terminals.last_seen, EXCLUDED.last_seen)`

	GetAllTerminalsSQL = `
		SELECT outlet_id, staff_id, client_type, status, pending_orders, last_seen
		FROM terminals
		ORDER BY outlet_id, staff_id`
)
