package storage

import (
	"context"

	"github.com/openbay/shopboard/libs/db"
)

// The (tenant_id, status, position) uniqueness constraint is deferred so a
// reorder can pass rows through intermediate duplicate positions within the
// transaction; it is checked once at commit.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS appointments (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id UUID NOT NULL,
	customer_id UUID,
	vehicle_id UUID,
	technician_id UUID,
	status TEXT NOT NULL DEFAULT 'SCHEDULED',
	position INT NOT NULL DEFAULT 0,
	version BIGINT NOT NULL DEFAULT 1,
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ,
	total_amount_cents BIGINT NOT NULL DEFAULT 0,
	paid_amount_cents BIGINT NOT NULL DEFAULT 0,
	check_in_at TIMESTAMPTZ,
	check_out_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT appointments_amounts_check
		CHECK (total_amount_cents >= paid_amount_cents AND paid_amount_cents >= 0),
	CONSTRAINT appointments_version_check CHECK (version >= 1),
	CONSTRAINT appointments_column_slot_key
		UNIQUE (tenant_id, status, position) DEFERRABLE INITIALLY DEFERRED
);

CREATE INDEX IF NOT EXISTS appointments_tenant_start_idx
	ON appointments (tenant_id, start_at, id);

CREATE INDEX IF NOT EXISTS appointments_tenant_status_idx
	ON appointments (tenant_id, status, position);

CREATE TABLE IF NOT EXISTS outbox_events (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL DEFAULT gen_random_uuid(),
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	traceparent TEXT,
	tracestate TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_events_unpublished_idx
	ON outbox_events (id) WHERE published_at IS NULL;
`

// EnsureSchema creates the board tables when they do not exist yet. Meant
// for dev and test databases; production runs migrations out of band.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}
